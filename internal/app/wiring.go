package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/docanalyzer/internal/auth"
	"github.com/hitoshi/docanalyzer/internal/config"
	"github.com/hitoshi/docanalyzer/internal/document"
	"github.com/hitoshi/docanalyzer/internal/handler"
	"github.com/hitoshi/docanalyzer/internal/middleware"
	"github.com/hitoshi/docanalyzer/internal/notify"
	"github.com/hitoshi/docanalyzer/internal/storage"
	"github.com/hitoshi/docanalyzer/internal/user"
	"github.com/hitoshi/docanalyzer/internal/worker/analysis"
)

// compile-time interface check
var (
	_ handler.AuthServiceInterface     = (*auth.Service)(nil)
	_ handler.ProfileServiceInterface  = (*user.Service)(nil)
	_ handler.DocumentServiceInterface = (*document.Service)(nil)
	_ middleware.TokenVerifier         = (*auth.TokenIssuer)(nil)
	_ document.AnalysisQueue           = (*analysis.Pipeline)(nil)
)

// buildStorage はSTORAGE_BACKENDに応じたファイルストレージを生成する。
func buildStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case "s3":
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return s, nil
	}
}

// buildSender はSMTPが設定されていれば再試行付きのSMTPSenderを、未設定ならログ出力のみのSenderを返す。
func buildSender(cfg *config.Config, logger *slog.Logger) notify.Sender {
	if !cfg.SMTPEnabled() {
		logger.Warn("SMTP_HOST is not set; mail will be written to the log only")
		return notify.NewLogSender(logger)
	}
	smtp := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
	}, logger)
	return notify.NewRetrySender(smtp, notify.RetryConfig{}, logger)
}

// buildVerifier はGoogleログインが有効な場合のみ外部IdP検証器を返す。
// 無効な場合はnilインターフェースを返し、認証サービスは連携ログインを拒否する。
func buildVerifier(cfg *config.Config) auth.IdentityVerifier {
	if !cfg.GoogleEnabled() {
		return nil
	}
	return auth.NewGoogleVerifier(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
}
