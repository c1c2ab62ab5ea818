package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, is_verified, otp_code, otp_expires_at,
	google_id, reset_token_hash, reset_expires_at, last_login_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var (
		passwordHash, otpCode, googleID, resetHash sql.NullString
		otpExpiresAt, resetExpiresAt, lastLoginAt  sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &passwordHash, &user.IsVerified,
		&otpCode, &otpExpiresAt, &googleID, &resetHash, &resetExpiresAt,
		&lastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = nullStringPtr(passwordHash)
	user.OTPCode = nullStringPtr(otpCode)
	user.OTPExpiresAt = nullTimePtr(otpExpiresAt)
	user.GoogleID = nullStringPtr(googleID)
	user.ResetTokenHash = nullStringPtr(resetHash)
	user.ResetExpiresAt = nullTimePtr(resetExpiresAt)
	user.LastLoginAt = nullTimePtr(lastLoginAt)
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByResetTokenHash は有効期限内のリセットトークンを持つユーザーを取得する。
func (r *PostgresUserRepo) FindByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE reset_token_hash = $1 AND reset_expires_at > $2`,
		tokenHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by reset token: %w", err)
	}
	return user, nil
}

// UpsertPending は未検証ユーザーを1文で作成または上書きする。
// ON CONFLICT の WHERE 句により検証済みユーザーは更新されず、その場合は行が返らない。
func (r *PostgresUserRepo) UpsertPending(ctx context.Context, user *model.User) (*model.User, error) {
	saved, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, is_verified, otp_code, otp_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, $5, $6, $7, $7)
		 ON CONFLICT (email) DO UPDATE SET
		     name = EXCLUDED.name,
		     password_hash = EXCLUDED.password_hash,
		     otp_code = EXCLUDED.otp_code,
		     otp_expires_at = EXCLUDED.otp_expires_at,
		     updated_at = EXCLUDED.updated_at
		 WHERE users.is_verified = false
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Name, user.PasswordHash, user.OTPCode, user.OTPExpiresAt, user.UpdatedAt,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pending user: %w", err)
	}
	return saved, nil
}

// Create は新規ユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, is_verified, google_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.IsVerified, user.GoogleID,
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError()
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// MarkVerified は検証済みに更新し、OTPを同時にクリアする。
func (r *PostgresUserRepo) MarkVerified(ctx context.Context, id string) error {
	return r.execOne(ctx, "mark user verified",
		`UPDATE users SET is_verified = true, otp_code = NULL, otp_expires_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
}

// AttachGoogleID は外部IdPのsubjectを紐付け、検証済みに更新する。
// 未検証だったユーザーのパスワードとリセットトークンは破棄する。
func (r *PostgresUserRepo) AttachGoogleID(ctx context.Context, id, googleID string) error {
	return r.execOne(ctx, "attach google id",
		`UPDATE users SET
		     google_id = $2,
		     password_hash = CASE WHEN is_verified THEN password_hash END,
		     reset_token_hash = CASE WHEN is_verified THEN reset_token_hash END,
		     reset_expires_at = CASE WHEN is_verified THEN reset_expires_at END,
		     is_verified = true, otp_code = NULL, otp_expires_at = NULL, updated_at = now()
		 WHERE id = $1`,
		id, googleID,
	)
}

// UpdateProfile は名前・メールアドレス・パスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	err := r.execOne(ctx, "update profile",
		`UPDATE users SET name = $2, email = $3, password_hash = $4, updated_at = now()
		 WHERE id = $1`,
		user.ID, user.Name, user.Email, user.PasswordHash,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError()
	}
	return err
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, "update last login",
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		id, at,
	)
}

// SetResetToken はリセットトークンのハッシュと有効期限を保存する。
func (r *PostgresUserRepo) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.execOne(ctx, "set reset token",
		`UPDATE users SET reset_token_hash = $2, reset_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, tokenHash, expiresAt,
	)
}

// ConsumeResetToken はリセットトークンを消費してパスワードを置き換える。
// 同じトークンで並行して呼ばれても成功するのは1回だけ。
func (r *PostgresUserRepo) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, bool, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = $3
		 WHERE reset_token_hash = $1 AND reset_expires_at > $3
		 RETURNING id`,
		tokenHash, passwordHash, now,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to consume reset token: %w", err)
	}
	return userID, true, nil
}

// ClearExpiredChallenges は期限切れのOTPとリセット情報をクリアする。
func (r *PostgresUserRepo) ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		     otp_code = CASE WHEN otp_expires_at <= $1 THEN NULL ELSE otp_code END,
		     otp_expires_at = CASE WHEN otp_expires_at <= $1 THEN NULL ELSE otp_expires_at END,
		     reset_token_hash = CASE WHEN reset_expires_at <= $1 THEN NULL ELSE reset_token_hash END,
		     reset_expires_at = CASE WHEN reset_expires_at <= $1 THEN NULL ELSE reset_expires_at END
		 WHERE otp_expires_at <= $1 OR reset_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired challenges: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// execOne は1行だけを更新するUPDATEを実行する。該当行がない場合はNOT_FOUNDを返す。
func (r *PostgresUserRepo) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
