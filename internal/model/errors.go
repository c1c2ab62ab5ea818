// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, document, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConflict             = "CONFLICT"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeExpired              = "EXPIRED"
	ErrCodeInvalidOrExpired     = "INVALID_OR_EXPIRED"
	ErrCodeInvalidCode          = "INVALID_CODE"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeFederationDisabled   = "FEDERATION_DISABLED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// ErrorCode はエラーチェーンから APIError のコードを取り出す。
// APIError を含まない場合は空文字列を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewConflictError は検証済みユーザーの重複エラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、パスワードの再設定を行ってください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認してください。",
	}
}

// NewDocumentNotFoundError はドキュメントが見つからない場合のエラーを生成する。
func NewDocumentNotFoundError(documentID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたドキュメントが見つかりません: %s", documentID),
		Category: "document",
		Action:   "ドキュメントIDを確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// アカウント列挙を防ぐため、メールアドレスの有無にかかわらず同一の内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewAuthenticationFailedError は外部IdPによる認証失敗エラーを生成する。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "外部サービスでの認証に失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをお試しください。",
	}
}

// NewOTPExpiredError はOTPの有効期限切れエラーを生成する。
func NewOTPExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeExpired,
		Message:  "認証コードの有効期限が切れています。",
		Category: "auth",
		Action:   "再度登録を行い、新しい認証コードを取得してください。",
	}
}

// NewInvalidOTPError はOTP不一致エラーを生成する。
func NewInvalidOTPError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "認証コードが正しくありません。",
		Category: "auth",
		Action:   "メールに記載された6桁のコードを入力してください。",
	}
}

// NewInvalidResetTokenError はリセットトークンの無効・期限切れエラーを生成する。
func NewInvalidResetTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpired,
		Message:  "パスワード再設定リンクが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度パスワードの再設定を申請してください。",
	}
}

// NewForbiddenError はドキュメントへのアクセス権限がない場合のエラーを生成する。
func NewForbiddenError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("このドキュメントを%sする権限がありません。", operation),
		Category: "document",
		Action:   "ドキュメントの所有者に共有を依頼してください。",
	}
}

// NewUnauthorizedError はセッション資格情報が無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewFederationDisabledError は外部IdP連携が設定されていない場合のエラーを生成する。
func NewFederationDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeFederationDisabled,
		Message:  "外部サービスでのログインは無効です。",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録し、利用者には返さない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
