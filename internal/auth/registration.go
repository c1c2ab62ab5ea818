package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// Register は未検証ユーザーを作成（または未検証ユーザーを上書き）し、OTPをメール送信する。
// 同じメールアドレスの検証済みユーザーが存在する場合は CONFLICT を返す。
func (s *Service) Register(ctx context.Context, email, name, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if email == "" || name == "" || password == "" {
		return nil, model.NewValidationError("メールアドレス、名前、パスワードは必須です。")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil && existing.IsVerified {
		return nil, model.NewConflictError()
	}

	hash, err := s.config.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	code, err := s.config.OTP.Generate()
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	expiresAt := now.Add(s.config.OTPTTL)
	pending := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: &hash,
		OTPCode:      &code,
		OTPExpiresAt: &expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// 検索から保存までの間に検証済みになった場合も上書きされない
	saved, err := s.users.UpsertPending(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("failed to save pending user: %w", err)
	}
	if saved == nil {
		return nil, model.NewConflictError()
	}

	if err := s.notifier.SendOTP(ctx, email, code, s.config.OTPTTL); err != nil {
		return nil, fmt.Errorf("failed to send otp: %w", err)
	}

	s.logger.Info("registration started",
		slog.String("user_id", saved.ID),
	)
	return saved, nil
}

// RedeemOTP はワンタイムコードを検証し、ユーザーを検証済みにする。
// 検証済みユーザーに対してはコードを確認せずに成功する。
// 有効期限の判定はコードの照合より先に行う。
func (s *Service) RedeemOTP(ctx context.Context, email, code string) (*model.User, error) {
	email = NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.IsVerified {
		return user, nil
	}

	if !user.HasLiveOTP(s.config.Now()) {
		return nil, model.NewOTPExpiredError()
	}
	if *user.OTPCode != code {
		return nil, model.NewInvalidOTPError()
	}

	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to mark user verified: %w", err)
	}
	user.IsVerified = true
	user.OTPCode = nil
	user.OTPExpiresAt = nil

	s.logger.Info("user verified", slog.String("user_id", user.ID))
	return user, nil
}

// VerifyOTP はワンタイムコードを検証し、成功時にセッション資格情報を発行する。
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*model.AuthResult, error) {
	user, err := s.RedeemOTP(ctx, email, code)
	if err != nil {
		return nil, err
	}
	return s.issueSession(user)
}
