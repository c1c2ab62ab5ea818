package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// DefaultResetTokenTTL はパスワード再設定トークンのデフォルト有効期間。
const DefaultResetTokenTTL = 10 * time.Minute

const resetTokenBytes = 32

// HashResetToken は生トークンから保存用のハッシュ（SHA-256, hex）を求める。
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RequestReset は再設定トークンを発行し、再設定リンクをメール送信する。
// 保存するのはハッシュのみで、以前のトークンは上書きにより無効になる。
// 生トークンは呼び出し元に返すが、HTTP応答には含めないこと。
func (s *Service) RequestReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", model.NewUserNotFoundError()
	}

	raw, err := generateResetToken()
	if err != nil {
		return "", err
	}
	expiresAt := s.config.Now().Add(s.config.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, HashResetToken(raw), expiresAt); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, s.config.ResetURLBase+raw, s.config.ResetTokenTTL); err != nil {
		return "", fmt.Errorf("failed to send reset mail: %w", err)
	}

	s.logger.Info("password reset requested", slog.String("user_id", user.ID))
	return raw, nil
}

// RedeemReset は再設定トークンを消費してパスワードを置き換え、セッション資格情報を発行する。
// 未発行・期限切れ・使用済みのトークンは INVALID_OR_EXPIRED を返す。
func (s *Service) RedeemReset(ctx context.Context, rawToken, newPassword string) (*model.AuthResult, error) {
	if rawToken == "" {
		return nil, model.NewInvalidResetTokenError()
	}
	if newPassword == "" {
		return nil, model.NewValidationError("新しいパスワードを入力してください。")
	}

	tokenHash := HashResetToken(rawToken)
	now := s.config.Now()

	user, err := s.users.FindByResetTokenHash(ctx, tokenHash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find reset token: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidResetTokenError()
	}

	hash, err := s.config.Hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	// 並行して同じトークンが使われた場合、条件付きUPDATEで後続は失敗する
	userID, ok, err := s.users.ConsumeResetToken(ctx, tokenHash, hash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	if !ok || userID != user.ID {
		return nil, model.NewInvalidResetTokenError()
	}
	user.PasswordHash = &hash
	user.ResetTokenHash = nil
	user.ResetExpiresAt = nil

	s.logger.Info("password reset completed", slog.String("user_id", user.ID))
	return s.issueSession(user)
}
