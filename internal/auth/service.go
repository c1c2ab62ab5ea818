// Package auth は資格情報の登録・検証、セッション資格情報の発行、
// 外部IdP連携、パスワード再設定を提供する。
package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
)

// SessionIssuer はセッション資格情報の発行インターフェース。
type SessionIssuer interface {
	Issue(userID string) (*model.SessionToken, error)
}

// Notifier は帯域外（メール）通知のインターフェース。
// 送信失敗はエラーとして呼び出し元に返す。
type Notifier interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
	SendPasswordReset(ctx context.Context, to, resetURL string, ttl time.Duration) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	OTPTTL        time.Duration // デフォルト: 10分
	ResetTokenTTL time.Duration // デフォルト: 10分
	ResetURLBase  string        // 再設定リンクの前半部分。末尾にトークンを連結する

	OTP    OTPGenerator     // nilの場合は RandomOTPGenerator
	Hasher PasswordHasher   // nilの場合は bcrypt.DefaultCost
	Now    func() time.Time // nilの場合は time.Now
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions SessionIssuer
	notifier Notifier
	verifier IdentityVerifier
	config   ServiceConfig
	logger   *slog.Logger
}

// NewService はServiceを生成する。verifier が nil の場合は外部IdP連携を利用できない。
func NewService(
	users repository.UserRepository,
	sessions SessionIssuer,
	notifier Notifier,
	verifier IdentityVerifier,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.OTPTTL <= 0 {
		config.OTPTTL = DefaultOTPTTL
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = DefaultResetTokenTTL
	}
	if config.OTP == nil {
		config.OTP = RandomOTPGenerator{}
	}
	if config.Hasher == nil {
		config.Hasher = NewBcryptHasher(0)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		notifier: notifier,
		verifier: verifier,
		config:   config,
		logger:   logger,
	}
}

// NormalizeEmail は照合用にメールアドレスを正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// issueSession はユーザーに対してセッション資格情報を発行し、結果を組み立てる。
func (s *Service) issueSession(user *model.User) (*model.AuthResult, error) {
	session, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &model.AuthResult{User: user, Session: session}, nil
}
