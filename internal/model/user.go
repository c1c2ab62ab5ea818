// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（アカウント）を表す。
// メールアドレスごとに1件のみ存在し、本コアでは削除しない。
//
// OTP関連フィールドとパスワードリセット関連フィールドは互いに独立しており、
// それぞれ消費に成功した時点で即座にクリアされる。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash *string // 外部IdPのみで作成されたユーザーはnil
	IsVerified   bool

	OTPCode      *string
	OTPExpiresAt *time.Time

	GoogleID *string // 外部IdPのsubject

	ResetTokenHash *string // SHA-256(hex)。生トークンは保存しない
	ResetExpiresAt *time.Time

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPassword はパスワードによる直接ログインが可能かを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasLiveOTP は指定時刻において有効なOTPチャレンジを保持しているかを返す。
func (u *User) HasLiveOTP(now time.Time) bool {
	return u.OTPCode != nil && u.OTPExpiresAt != nil && now.Before(*u.OTPExpiresAt)
}

// IsFederated は外部IdPと紐付いているかを返す。
func (u *User) IsFederated() bool {
	return u.GoogleID != nil && *u.GoogleID != ""
}

// SessionToken は認証成功時に発行されるセッション資格情報を表す。
// サーバー側には保存されず、有効期限切れでのみ無効になる。
type SessionToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// AuthResult は認証系操作の成功結果（ユーザーとセッション資格情報）を表す。
type AuthResult struct {
	User    *User
	Session *SessionToken
}

// ProfilePatch はプロフィール更新の差分を表す。nilのフィールドは変更しない。
type ProfilePatch struct {
	Name     *string
	Email    *string
	Password *string
}
