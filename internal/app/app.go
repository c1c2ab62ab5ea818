package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/docanalyzer/internal/auth"
	"github.com/hitoshi/docanalyzer/internal/config"
	"github.com/hitoshi/docanalyzer/internal/database"
	"github.com/hitoshi/docanalyzer/internal/document"
	"github.com/hitoshi/docanalyzer/internal/handler"
	"github.com/hitoshi/docanalyzer/internal/logger"
	"github.com/hitoshi/docanalyzer/internal/metrics"
	"github.com/hitoshi/docanalyzer/internal/middleware"
	"github.com/hitoshi/docanalyzer/internal/notify"
	"github.com/hitoshi/docanalyzer/internal/repository"
	"github.com/hitoshi/docanalyzer/internal/security"
	"github.com/hitoshi/docanalyzer/internal/user"
	"github.com/hitoshi/docanalyzer/internal/worker/analysis"
	"github.com/hitoshi/docanalyzer/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// summaryMaxRunes は解析結果の要約・指摘文の最大文字数。
const summaryMaxRunes = 2000

// Init はアプリケーションの初期化を行う。
// .env と環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		// ロガー未設定でも起動失敗は構造化ログで残す
		logger.SetupDefault(w, slog.LevelInfo).Error("failed to load config",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Bool("google_enabled", cfg.GoogleEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと解析ワーカーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	docRepo := repository.NewPostgresDocumentRepo(db)

	// 3. インフラ（ストレージ・メール・外部IdP・メトリクス）
	store, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	mailer := notify.NewMailer(buildSender(cfg, log))
	verifier := buildVerifier(cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービス
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	authService := auth.NewService(userRepo, tokens, mailer, verifier, auth.ServiceConfig{
		OTPTTL:        cfg.OTPTTL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		ResetURLBase:  cfg.ResetURLBase,
	}, log)
	profileService := user.NewService(userRepo, tokens, nil, log)

	pipeline := analysis.NewPipeline(
		docRepo,
		analysis.NewStorageExtractor(store, cfg.AnalysisMaxBytes),
		analysis.NewMockAnalyzer(cfg.AnalysisLatency),
		security.NewTextSanitizer(summaryMaxRunes),
		collector,
		log,
	)
	documentService := document.NewService(docRepo, userRepo, store, pipeline, collector, document.Config{
		AllowedTypes: cfg.AllowedFileTypes,
		MaxFileSize:  cfg.MaxFileSize,
	}, log)

	// 5. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter: middleware.NewRateLimiter(
			middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth), log,
		),
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		HealthChecker:  db,
		Logger:         log,

		AuthService:    authService,
		ProfileService: profileService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendGoogleRedirect: cfg.FrontendGoogleRedirect,
			CookieSecure:           cfg.CookieSecure,
		},

		DocumentService: documentService,
		MaxFileSize:     cfg.MaxFileSize,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 6. HTTPサーバーと解析ワーカーを起動し、どちらかが終了したら全体を止める
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	g.Go(func() error {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのOTPとリセットトークンを定期的に消去する。ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(repository.NewPostgresUserRepo(db), slog.Default())
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	state, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(state.Version)),
		slog.Bool("dirty", state.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
