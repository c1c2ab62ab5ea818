// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// メールアドレスは呼び出し側で正規化（trim + 小文字化）済みであること。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByResetTokenHash はリセットトークンのハッシュが一致し、
	// かつ now 時点で有効期限内のユーザーを返す。該当なしの場合はnilを返す。
	FindByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error)

	// UpsertPending は未検証ユーザーを作成、または既存の未検証ユーザーを上書きする。
	// 同一メールアドレスの検証済みユーザーが存在する場合は何も変更せず nil を返す。
	// 成功時は保存後のユーザー（既存レコードを上書きした場合は既存のID）を返す。
	UpsertPending(ctx context.Context, user *model.User) (*model.User, error)

	// Create は新規ユーザーを作成する。メールアドレス重複時は CONFLICT の APIError を返す。
	Create(ctx context.Context, user *model.User) error

	// MarkVerified は検証済みに更新し、OTPを同時にクリアする。
	MarkVerified(ctx context.Context, id string) error

	// AttachGoogleID は外部IdPのsubjectを紐付け、検証済みに更新する。
	// 未検証だったユーザーのパスワードとリセットトークンは破棄する。
	AttachGoogleID(ctx context.Context, id, googleID string) error

	// UpdateProfile は名前・メールアドレス・パスワードハッシュを更新する。
	// メールアドレス重複時は CONFLICT の APIError を返す。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// SetResetToken はリセットトークンのハッシュと有効期限を保存する。既存の値は上書きされる。
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error

	// ConsumeResetToken はハッシュが一致し有効期限内の場合に限り、
	// パスワードハッシュを置き換えてリセット情報をクリアする。
	// 条件付きUPDATEで1回だけ成功し、該当行がなければ false を返す。
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, bool, error)

	// ClearExpiredChallenges は now 時点で期限切れのOTPとリセット情報をクリアし、件数を返す。
	ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// DocumentRepository はドキュメントと共有設定の永続化インターフェース。
type DocumentRepository interface {
	// Create はドキュメントを作成する。
	Create(ctx context.Context, doc *model.Document) error

	// FindByID は指定IDのドキュメントを共有設定付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// ListByOwner は所有者のドキュメントを作成日時の降順で取得する。
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Document, error)

	// CountByOwner は所有者のドキュメント数を返す。
	CountByOwner(ctx context.Context, ownerID string) (int, error)

	// UpsertShare は共有設定を追加または更新する。共有先ユーザーごとに1件。
	UpsertShare(ctx context.Context, documentID string, grant model.ShareGrant) error

	// UpdateVisibility は公開設定を更新する。
	UpdateVisibility(ctx context.Context, documentID string, public bool) error

	// UpdateAnalysis は解析サブレコードを保存する。
	// 保存済みの状態が analysis.Status の直前の状態でなければ更新せず *model.TransitionError を返す。
	UpdateAnalysis(ctx context.Context, documentID string, analysis model.Analysis) error

	// ListIDsByStatus は指定状態のドキュメントIDを作成日時の昇順で返す。
	ListIDsByStatus(ctx context.Context, status model.AnalysisStatus) ([]string, error)

	// Delete は指定IDのドキュメントを削除する。共有設定はCASCADE削除される。
	Delete(ctx context.Context, id string) error
}
