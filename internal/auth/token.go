package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// DefaultTokenTTL はセッション資格情報のデフォルト有効期間。
const DefaultTokenTTL = 24 * time.Hour

const tokenIssuer = "docanalyzer"

// TokenIssuer はHS256署名のセッション資格情報を発行・検証する。
// サーバー側に状態を持たず、失効は有効期限切れのみ。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。ttl が0以下の場合は24時間。
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue はユーザーIDを主体とするセッション資格情報を発行する。
func (i *TokenIssuer) Issue(userID string) (*model.SessionToken, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return &model.SessionToken{Token: signed, UserID: userID, ExpiresAt: expiresAt}, nil
}

// Verify は署名・アルゴリズム・有効期限を検証し、ユーザーIDを返す。
// 検証に失敗した場合は理由にかかわらず UNAUTHORIZED を返す。
func (i *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", model.NewUnauthorizedError()
	}
	return claims.Subject, nil
}

// TTL は発行する資格情報の有効期間を返す。
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}
