// Package user はログイン済みユーザーのプロフィール管理を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/docanalyzer/internal/auth"
	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
)

// Service はプロフィール参照・更新のサービス層。
type Service struct {
	users    repository.UserRepository
	sessions auth.SessionIssuer
	hasher   auth.PasswordHasher
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// hasherがnilの場合は bcrypt.DefaultCost を使用する。
func NewService(
	users repository.UserRepository,
	sessions auth.SessionIssuer,
	hasher auth.PasswordHasher,
	logger *slog.Logger,
) *Service {
	if hasher == nil {
		hasher = auth.NewBcryptHasher(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		logger:   logger,
	}
}

// Me はログイン中のユーザーを返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は名前・メールアドレス・パスワードを更新し、新しいセッション資格情報を発行する。
// 空のフィールドは変更しない。他のユーザーが使用中のメールアドレスへの変更は CONFLICT を返す。
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.AuthResult, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if name := strings.TrimSpace(*patch.Name); name != "" {
			user.Name = name
		}
	}
	if patch.Email != nil {
		if email := auth.NormalizeEmail(*patch.Email); email != "" && email != user.Email {
			existing, err := s.users.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
			}
			if existing != nil && existing.ID != user.ID {
				return nil, model.NewConflictError()
			}
			user.Email = email
		}
	}
	if patch.Password != nil && *patch.Password != "" {
		if err := s.setPassword(user, *patch.Password); err != nil {
			return nil, err
		}
	}

	// 同時更新によるメールアドレスの重複はリポジトリが CONFLICT として返す。
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("プロフィールを更新しました", slog.String("user_id", user.ID))
	return s.issueSession(user)
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに置き換える。
// 現在のパスワードが一致しない場合、またはパスワード未設定のユーザーは INVALID_CREDENTIALS を返す。
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) (*model.AuthResult, error) {
	if next == "" {
		return nil, model.NewValidationError("新しいパスワードを入力してください。")
	}
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasPassword() || s.hasher.Compare(*user.PasswordHash, current) != nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := s.setPassword(user, next); err != nil {
		return nil, err
	}
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("パスワードを変更しました", slog.String("user_id", user.ID))
	return s.issueSession(user)
}

func (s *Service) setPassword(user *model.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	user.PasswordHash = &hash
	return nil
}

func (s *Service) issueSession(user *model.User) (*model.AuthResult, error) {
	session, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &model.AuthResult{User: user, Session: session}, nil
}
