package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/docanalyzer/internal/document"
	"github.com/hitoshi/docanalyzer/internal/metrics"
	"github.com/hitoshi/docanalyzer/internal/middleware"
	"github.com/hitoshi/docanalyzer/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn          func(ctx context.Context, email, name, password string) (*model.User, error)
	verifyOTPFn         func(ctx context.Context, email, code string) (*model.AuthResult, error)
	loginFn             func(ctx context.Context, email, password string) (*model.AuthResult, error)
	googleLoginURLFn    func(state string) (string, error)
	federatedLoginFn    func(ctx context.Context, idToken string) (*model.AuthResult, error)
	federatedCallbackFn func(ctx context.Context, code string) (*model.AuthResult, error)
	requestResetFn      func(ctx context.Context, email string) (string, error)
	redeemResetFn       func(ctx context.Context, rawToken, newPassword string) (*model.AuthResult, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, name, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, name, password)
	}
	return &model.User{ID: "user-1", Email: email, Name: name}, nil
}

func (m *mockAuthService) VerifyOTP(ctx context.Context, email, code string) (*model.AuthResult, error) {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, email, code)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) GoogleLoginURL(state string) (string, error) {
	if m.googleLoginURLFn != nil {
		return m.googleLoginURLFn(state)
	}
	return "", nil
}

func (m *mockAuthService) FederatedLogin(ctx context.Context, idToken string) (*model.AuthResult, error) {
	if m.federatedLoginFn != nil {
		return m.federatedLoginFn(ctx, idToken)
	}
	return nil, nil
}

func (m *mockAuthService) FederatedCallback(ctx context.Context, code string) (*model.AuthResult, error) {
	if m.federatedCallbackFn != nil {
		return m.federatedCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) RequestReset(ctx context.Context, email string) (string, error) {
	if m.requestResetFn != nil {
		return m.requestResetFn(ctx, email)
	}
	return "", nil
}

func (m *mockAuthService) RedeemReset(ctx context.Context, rawToken, newPassword string) (*model.AuthResult, error) {
	if m.redeemResetFn != nil {
		return m.redeemResetFn(ctx, rawToken, newPassword)
	}
	return nil, nil
}

type mockProfileService struct {
	meFn             func(ctx context.Context, userID string) (*model.User, error)
	updateProfileFn  func(ctx context.Context, userID string, patch model.ProfilePatch) (*model.AuthResult, error)
	changePasswordFn func(ctx context.Context, userID, current, next string) (*model.AuthResult, error)
}

func (m *mockProfileService) Me(ctx context.Context, userID string) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockProfileService) UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.AuthResult, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, patch)
	}
	return nil, nil
}

func (m *mockProfileService) ChangePassword(ctx context.Context, userID, current, next string) (*model.AuthResult, error) {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, userID, current, next)
	}
	return nil, nil
}

type mockDocumentService struct {
	uploadFn        func(ctx context.Context, userID string, file document.FileUpload) (*model.Document, error)
	listFn          func(ctx context.Context, userID string, page, limit int) (*model.DocumentPage, error)
	getFn           func(ctx context.Context, userID, documentID string) (*model.Document, error)
	shareFn         func(ctx context.Context, userID, documentID, granteeID string, permission model.Permission) (*model.Document, error)
	setVisibilityFn func(ctx context.Context, userID, documentID string, public bool) (*model.Document, error)
	deleteFn        func(ctx context.Context, userID, documentID string) error
}

func (m *mockDocumentService) Upload(ctx context.Context, userID string, file document.FileUpload) (*model.Document, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, userID, file)
	}
	return nil, nil
}

func (m *mockDocumentService) List(ctx context.Context, userID string, page, limit int) (*model.DocumentPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, page, limit)
	}
	return &model.DocumentPage{Documents: []*model.Document{}, Page: 1}, nil
}

func (m *mockDocumentService) Get(ctx context.Context, userID, documentID string) (*model.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, documentID)
	}
	return nil, model.NewDocumentNotFoundError(documentID)
}

func (m *mockDocumentService) Share(ctx context.Context, userID, documentID, granteeID string, permission model.Permission) (*model.Document, error) {
	if m.shareFn != nil {
		return m.shareFn(ctx, userID, documentID, granteeID, permission)
	}
	return nil, nil
}

func (m *mockDocumentService) SetVisibility(ctx context.Context, userID, documentID string, public bool) (*model.Document, error) {
	if m.setVisibilityFn != nil {
		return m.setVisibilityFn(ctx, userID, documentID, public)
	}
	return nil, nil
}

func (m *mockDocumentService) Delete(ctx context.Context, userID, documentID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, documentID)
	}
	return nil
}

// compile-time interface checks
var (
	_ AuthServiceInterface     = (*mockAuthService)(nil)
	_ ProfileServiceInterface  = (*mockProfileService)(nil)
	_ DocumentServiceInterface = (*mockDocumentService)(nil)
)

// authEventRecorder はRecordAuthEventの呼び出しだけを記録する。
type authEventRecorder struct {
	metrics.Noop
	events []string
}

func (r *authEventRecorder) RecordAuthEvent(event, outcome string) {
	r.events = append(r.events, event+":"+outcome)
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseErrorBody はエラーレスポンスのボディをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// parseSuccessBody は {"success":true,"data":...} のdataを指定の型にデコードする。
func parseSuccessBody(t *testing.T, w *httptest.ResponseRecorder, data interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !envelope.Success {
		t.Fatal("success = false, want true")
	}
	if data != nil {
		if err := json.Unmarshal(envelope.Data, data); err != nil {
			t.Fatalf("failed to decode data: %v (raw %s)", err, envelope.Data)
		}
	}
}

func authResult(userID, token string) *model.AuthResult {
	return &model.AuthResult{
		User:    &model.User{ID: userID, Name: "Alice", Email: "alice@example.com", IsVerified: true},
		Session: &model.SessionToken{Token: token, UserID: userID},
	}
}
