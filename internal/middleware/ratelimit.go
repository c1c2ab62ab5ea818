package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate  rate.Limit    // 認証済みAPIのレート（req/sec）。ユーザー単位
	GeneralBurst int           // 認証済みAPIのバーストサイズ
	AuthRate     rate.Limit    // 認証系エンドポイントのレート（req/sec）。クライアントIP単位
	AuthBurst    int           // 認証系エンドポイントのバーストサイズ
	IdleTTL      time.Duration // 最終アクセスからリミッターを破棄するまでの時間
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// バーストは1分分の上限と同じ値にする。
func NewRateLimiterConfig(generalPerMin, authPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:  rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst: generalPerMin,
		AuthRate:     rate.Limit(float64(authPerMin) / 60.0),
		AuthBurst:    authPerMin,
		IdleTTL:      10 * time.Minute,
	}
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 認証済みAPI 120 req/min/user、認証系 10 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// limiterSet はキーごとのリミッターを保持する。
// アクセスのたびに有効期限を延長し、IdleTTLの間使われなかったエントリはgo-cacheが破棄する。
type limiterSet struct {
	cache *gocache.Cache
	limit rate.Limit
	burst int
	ttl   time.Duration
}

func newLimiterSet(limit rate.Limit, burst int, ttl time.Duration) *limiterSet {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &limiterSet{
		cache: gocache.New(ttl, ttl/2),
		limit: limit,
		burst: burst,
		ttl:   ttl,
	}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	if v, ok := s.cache.Get(key); ok {
		limiter := v.(*rate.Limiter)
		s.cache.Set(key, limiter, s.ttl)
		return limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	// 並行して作成された場合は先に登録されたものを使う
	if err := s.cache.Add(key, limiter, s.ttl); err != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

func (s *limiterSet) count() int {
	return s.cache.ItemCount()
}

// RateLimiter は認証済みユーザー単位とクライアントIP単位のレート制限を管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	auth    *limiterSet
	logger  *slog.Logger
}

// NewRateLimiter は新しいRateLimiterを生成する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst, config.IdleTTL),
		auth:    newLimiterSet(config.AuthRate, config.AuthBurst, config.IdleTTL),
		logger:  logger,
	}
}

// GeneralMiddleware は認証済みAPIのレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある（AuthMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !rl.general.get(userID).Allow() {
				rl.logger.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "general"),
				)
				writeRateLimitResponse(w, rl.config.GeneralRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware は未認証で呼ばれる認証系エンドポイントのレート制限ミドルウェアを返す。
// クライアントIPをキーにする。プロキシ配下ではchiのRealIPミドルウェアの後に配置する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.auth.get(ip).Allow() {
				rl.logger.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "auth"),
				)
				writeRateLimitResponse(w, rl.config.AuthRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているユーザー単位リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// AuthLimiterCount は現在管理されているIP単位リミッターのエントリ数を返す。
func (rl *RateLimiter) AuthLimiterCount() int {
	return rl.auth.count()
}

// clientIP はRemoteAddrからポートを除いたアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitError())
}
