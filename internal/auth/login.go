package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// Authenticate はメールアドレスとパスワードでユーザーを認証する。
// 失敗理由（未登録・パスワード未設定・不一致）にかかわらず同一の INVALID_CREDENTIALS を返す。
// 未検証ユーザーのログインは拒否しない。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := s.config.Hasher.Compare(*user.PasswordHash, password); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	now := s.config.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// Login は認証に成功したユーザーにセッション資格情報を発行する。
func (s *Service) Login(ctx context.Context, email, password string) (*model.AuthResult, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return s.issueSession(user)
}
