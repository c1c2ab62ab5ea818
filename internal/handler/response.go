// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/docanalyzer/internal/auth"
	"github.com/hitoshi/docanalyzer/internal/middleware"
	"github.com/hitoshi/docanalyzer/internal/model"
)

// successResponse は成功時のレスポンスエンベロープ。
type successResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// writeData は {"success":true,"data":...} 形式でレスポンスを書き込む。
func writeData(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, successResponse{Success: true, Data: data})
}

// writeMessage はデータを持たない成功レスポンスを書き込む。
func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, successResponse{Success: true, Message: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeValidation,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// writeValidationError は入力検証エラー（400 VALIDATION_ERROR）を書き込む。
func writeValidationError(w http.ResponseWriter, reason string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(reason))
}

// requireUserID は認証ミドルウェアが注入したユーザーIDを取り出す。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if status := statusForCode(apiErr.Code); status != http.StatusInternalServerError {
			middleware.WriteErrorResponse(w, status, apiErr)
			return
		}
	}

	if errors.Is(err, auth.ErrFederationDisabled) {
		middleware.WriteErrorResponse(w, http.StatusNotImplemented, model.NewFederationDisabledError())
		return
	}

	// 未知のエラーは詳細をログのみに残す
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// statusForCode はエラーコードからHTTPステータスコードにマッピングする。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidCredentials, model.ErrCodeAuthenticationFailed, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeExpired, model.ErrCodeInvalidOrExpired, model.ErrCodeInvalidCode, model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
