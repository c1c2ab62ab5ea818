package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/docanalyzer/internal/model"
)

const (
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultJWKSCacheTTL  = time.Hour
)

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// FederatedIdentity は外部IdPのIDトークンから取り出した本人情報。
type FederatedIdentity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier は外部IdPによる本人確認のインターフェース。
type IdentityVerifier interface {
	// LoginURL は同意画面へのURLを生成する。
	LoginURL(state string) string
	// ExchangeCode は認可コードをIDトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// VerifyAssertion はIDトークンの署名・発行者・受信者・有効期限を検証する。
	VerifyAssertion(ctx context.Context, idToken string) (*FederatedIdentity, error)
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	JWKSURL  string

	HTTPClient *http.Client
}

// GoogleVerifier はGoogleのIDトークン検証と認可コード交換を提供する。
// 署名鍵（JWKS）は kid 単位でキャッシュする。
type GoogleVerifier struct {
	config GoogleOAuthConfig
	oauth  *oauth2.Config
	client *http.Client
	keys   *gocache.Cache
	now    func() time.Time
}

// NewGoogleVerifier はGoogleVerifierを生成する。
func NewGoogleVerifier(config GoogleOAuthConfig) *GoogleVerifier {
	endpoint := google.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.JWKSURL == "" {
		config.JWKSURL = defaultGoogleJWKSURL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleVerifier{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		client: client,
		keys:   gocache.New(defaultJWKSCacheTTL, 10*time.Minute),
		now:    time.Now,
	}
}

// LoginURL はGoogleの同意画面URLを生成する。
func (v *GoogleVerifier) LoginURL(state string) string {
	return v.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを返す。
func (v *GoogleVerifier) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", authFailed(errors.New("empty authorization code"))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	token, err := v.oauth.Exchange(ctx, code)
	if err != nil {
		return "", authFailed(fmt.Errorf("token exchange: %w", err))
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", authFailed(errors.New("token response has no id_token"))
	}
	return idToken, nil
}

// googleClaims はGoogle IDトークンのクレーム。
type googleClaims struct {
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
	Name          string      `json:"name"`
	jwt.RegisteredClaims
}

// emailVerified は email_verified を解釈する。bool と文字列の両方の形式がある。
// クレームが存在しない場合は未確認扱いにしない。
func (c *googleClaims) emailVerified() bool {
	switch v := c.EmailVerified.(type) {
	case nil:
		return true
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// VerifyAssertion はIDトークンを検証し、本人情報を返す。
// 検証に失敗した場合は AUTHENTICATION_FAILED を返す。
func (v *GoogleVerifier) VerifyAssertion(ctx context.Context, idToken string) (*FederatedIdentity, error) {
	if idToken == "" {
		return nil, authFailed(errors.New("empty id token"))
	}

	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			return v.keyForKid(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, authFailed(err)
	}
	if !googleIssuers[claims.Issuer] {
		return nil, authFailed(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}
	if claims.Subject == "" {
		return nil, authFailed(errors.New("id token has no subject"))
	}
	if claims.Email == "" || !claims.emailVerified() {
		return nil, authFailed(errors.New("id token has no verified email"))
	}

	return &FederatedIdentity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// keyForKid はキャッシュから公開鍵を返す。未キャッシュの場合はJWKSを取得し直す。
func (v *GoogleVerifier) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errors.New("id token has no kid")
	}
	if key, ok := v.keys.Get(kid); ok {
		return key.(*rsa.PublicKey), nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if key, ok := v.keys.Get(kid); ok {
		return key.(*rsa.PublicKey), nil
	}
	return nil, fmt.Errorf("kid %q not found in jwks", kid)
}

func (v *GoogleVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create jwks request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch failed with status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to parse jwks: %w", err)
	}
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			return fmt.Errorf("invalid jwk %q: %w", k.Kid, err)
		}
		v.keys.SetDefault(k.Kid, pub)
	}
	return nil
}

func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		e = 65537
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

func authFailed(cause error) error {
	return fmt.Errorf("%w: %v", model.NewAuthenticationFailedError(), cause)
}

// compile-time interface check
var _ IdentityVerifier = (*GoogleVerifier)(nil)
