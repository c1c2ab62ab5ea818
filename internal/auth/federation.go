package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// ErrFederationDisabled は外部IdPが設定されていない場合のエラー。
var ErrFederationDisabled = errors.New("federated login is not configured")

// GoogleLoginURL は外部IdPの同意画面URLを返す。
func (s *Service) GoogleLoginURL(state string) (string, error) {
	if s.verifier == nil {
		return "", ErrFederationDisabled
	}
	return s.verifier.LoginURL(state), nil
}

// FederatedLogin はクライアントが取得済みのIDトークンで認証する（フロントチャネル）。
func (s *Service) FederatedLogin(ctx context.Context, idToken string) (*model.AuthResult, error) {
	if s.verifier == nil {
		return nil, ErrFederationDisabled
	}
	identity, err := s.verifier.VerifyAssertion(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return s.resolveFederated(ctx, identity)
}

// FederatedCallback は認可コードをIDトークンに交換して認証する（バックチャネル）。
// 結果の受け渡し方法（リダイレクト）はHTTP層が決める。
func (s *Service) FederatedCallback(ctx context.Context, code string) (*model.AuthResult, error) {
	if s.verifier == nil {
		return nil, ErrFederationDisabled
	}
	idToken, err := s.verifier.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	identity, err := s.verifier.VerifyAssertion(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return s.resolveFederated(ctx, identity)
}

// resolveFederated は外部IdPの本人情報をローカルユーザーに対応付ける。
//   - 未登録: パスワードなしの検証済みユーザーを作成する
//   - 登録済み・未連携: subject を紐付けて検証済みにする。未検証だった場合、
//     所有を証明していない登録者のパスワードとリセットトークンは破棄する
//   - 連携済み: そのままログインする
func (s *Service) resolveFederated(ctx context.Context, identity *FederatedIdentity) (*model.AuthResult, error) {
	email := NormalizeEmail(identity.Email)
	if email == "" {
		return nil, model.NewAuthenticationFailedError()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	switch {
	case user == nil:
		user, err = s.createFederatedUser(ctx, email, identity)
		if err != nil {
			return nil, err
		}
	case !user.IsFederated():
		if err := s.users.AttachGoogleID(ctx, user.ID, identity.Subject); err != nil {
			return nil, fmt.Errorf("failed to link federated identity: %w", err)
		}
		if !user.IsVerified {
			user.PasswordHash = nil
			user.ResetTokenHash = nil
			user.ResetExpiresAt = nil
		}
		user.GoogleID = &identity.Subject
		user.IsVerified = true
		user.OTPCode = nil
		user.OTPExpiresAt = nil
		s.logger.Info("federated identity linked", slog.String("user_id", user.ID))
	}

	return s.issueSession(user)
}

func (s *Service) createFederatedUser(ctx context.Context, email string, identity *FederatedIdentity) (*model.User, error) {
	name := identity.Name
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	now := s.config.Now()
	subject := identity.Subject
	user := &model.User{
		ID:         uuid.New().String(),
		Email:      email,
		Name:       name,
		IsVerified: true,
		GoogleID:   &subject,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create federated user: %w", err)
	}
	s.logger.Info("federated user created", slog.String("user_id", user.ID))
	return user, nil
}
