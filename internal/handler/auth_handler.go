package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/docanalyzer/internal/metrics"
	"github.com/hitoshi/docanalyzer/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// auth.Service が満たす。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, name, password string) (*model.User, error)
	VerifyOTP(ctx context.Context, email, code string) (*model.AuthResult, error)
	Login(ctx context.Context, email, password string) (*model.AuthResult, error)
	GoogleLoginURL(state string) (string, error)
	FederatedLogin(ctx context.Context, idToken string) (*model.AuthResult, error)
	FederatedCallback(ctx context.Context, code string) (*model.AuthResult, error)
	RequestReset(ctx context.Context, email string) (string, error)
	RedeemReset(ctx context.Context, rawToken, newPassword string) (*model.AuthResult, error)
}

// ProfileServiceInterface はプロフィール操作のサービスインターフェース。
// user.Service が満たす。
type ProfileServiceInterface interface {
	Me(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.AuthResult, error)
	ChangePassword(ctx context.Context, userID, current, next string) (*model.AuthResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// FrontendGoogleRedirect は外部IdPコールバック後のリダイレクト先。
	// セッション資格情報は #token= フラグメントで渡す。
	FrontendGoogleRedirect string
	CookieSecure           bool
}

// AuthHandler は認証・プロフィール関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles ProfileServiceInterface
	metrics  metrics.MetricsCollector
	config   AuthHandlerConfig
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	profiles ProfileServiceInterface,
	collector metrics.MetricsCollector,
	config AuthHandlerConfig,
	logger *slog.Logger,
) *AuthHandler {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		metrics:  collector,
		config:   config,
		logger:   logger,
	}
}

// authResponse は認証成功時のレスポンスデータ。
type authResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// userResponse はユーザー情報のレスポンスデータ。
type userResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
	Federated  bool   `json:"federated"`
}

func toAuthResponse(result *model.AuthResult) authResponse {
	return authResponse{
		ID:    result.User.ID,
		Name:  result.User.Name,
		Email: result.User.Email,
		Token: result.Session.Token,
	}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// record は認証イベントの結果をメトリクスに記録する。
func (h *AuthHandler) record(event string, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(model.ErrorCode(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	h.metrics.RecordAuthEvent(event, outcome)
}

// Signup は未検証ユーザーを登録し、OTPをメール送信する。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.Name) == "" {
		writeValidationError(w, "名前・メールアドレス・パスワードは必須です。")
		return
	}

	_, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	h.record("signup", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeMessage(w, http.StatusCreated, "OTP sent to email. Please verify.")
}

// VerifyOTP はOTPを検証してセッション資格情報を発行する。
// POST /api/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.OTP == "" {
		writeValidationError(w, "メールアドレスと認証コードは必須です。")
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), req.Email, strings.TrimSpace(req.OTP))
	h.record("verify_otp", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// Login はメールアドレスとパスワードで認証する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	h.record("login", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// GoogleLogin はクライアントが取得したIDトークンで認証する。
// POST /api/auth/google-login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IDToken == "" {
		writeValidationError(w, "idTokenは必須です。")
		return
	}

	result, err := h.service.FederatedLogin(r.Context(), req.IDToken)
	h.record("federated_login", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// GoogleStart はGoogleの同意画面へリダイレクトする。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	loginURL, err := h.service.GoogleLoginURL(state)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback は認可コードを交換し、フロントエンドへ #token= 付きでリダイレクトする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// stateクッキーがある場合のみ照合する（同意画面を経由しない連携元もあるため）
	if stateCookie, err := r.Cookie(oauthStateCookie); err == nil {
		if stateCookie.Value != r.URL.Query().Get("state") {
			h.logger.Warn("oauth state mismatch")
			h.record("federated_callback", model.NewAuthenticationFailedError())
			writeValidationError(w, "stateパラメータが一致しません。")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     oauthStateCookie,
			Value:    "",
			Path:     "/api/auth/google",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeValidationError(w, "認可コードがありません。")
		return
	}

	result, err := h.service.FederatedCallback(r.Context(), code)
	h.record("federated_callback", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	target := h.config.FrontendGoogleRedirect + "#token=" + url.QueryEscape(result.Session.Token)
	http.Redirect(w, r, target, http.StatusFound)
}

// ForgotPassword はパスワード再設定リンクをメール送信する。
// 生トークンはレスポンスに含めない。
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeValidationError(w, "メールアドレスは必須です。")
		return
	}

	_, err := h.service.RequestReset(r.Context(), req.Email)
	h.record("request_reset", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeMessage(w, http.StatusOK, "Password reset link sent to email.")
}

// ResetPassword はリセットトークンを消費してパスワードを置き換える。
// PUT /api/auth/reset-password/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeValidationError(w, "新しいパスワードは必須です。")
		return
	}

	result, err := h.service.RedeemReset(r.Context(), chi.URLParam(r, "token"), req.Password)
	h.record("redeem_reset", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.profiles.Me(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, userResponse{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		IsVerified: user.IsVerified,
		Federated:  user.IsFederated(),
	})
}

// UpdateMe はプロフィールを更新し、新しいセッション資格情報を返す。
// PUT /api/auth/me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.profiles.UpdateProfile(r.Context(), userID, model.ProfilePatch{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	h.record("update_profile", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// ChangePassword は現在のパスワードを確認してから置き換える。
// PUT /api/auth/me/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.profiles.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	h.record("change_password", err)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
