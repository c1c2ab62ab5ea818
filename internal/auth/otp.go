package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// OTPLength はワンタイムコードの桁数。
const OTPLength = 6

// DefaultOTPTTL はワンタイムコードの有効期間。
const DefaultOTPTTL = 10 * time.Minute

var otpSpace = big.NewInt(1_000_000)

// OTPGenerator はワンタイムコードの生成インターフェース。
// テストでは固定値を返す実装に差し替える。
type OTPGenerator interface {
	Generate() (string, error)
}

// RandomOTPGenerator は crypto/rand による一様乱数の6桁コードを生成する。
type RandomOTPGenerator struct{}

// Generate は先頭ゼロを保持した6桁の数字文字列を返す。
func (RandomOTPGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// FixedOTPGenerator は常に同じコードを返す。開発環境とテスト用。
type FixedOTPGenerator string

// Generate は固定コードを返す。
func (g FixedOTPGenerator) Generate() (string, error) {
	return string(g), nil
}

var (
	_ OTPGenerator = RandomOTPGenerator{}
	_ OTPGenerator = FixedOTPGenerator("")
)
