package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/docanalyzer/internal/model"
)

func TestBcryptHasher_HashAndCompare(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "pw" || !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q はbcrypt形式ではない", hash)
	}
	if err := h.Compare(hash, "pw"); err != nil {
		t.Errorf("Compare(correct) = %v", err)
	}
	if err := h.Compare(hash, "PW"); err == nil {
		t.Error("Compare(wrong) should fail")
	}
}

func TestBcryptHasher_Salted(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Error("同じパスワードでもハッシュは異なるべき")
	}
}

func TestNewBcryptHasher_DefaultCost(t *testing.T) {
	if got := NewBcryptHasher(0).Cost; got != bcrypt.DefaultCost {
		t.Errorf("Cost = %d, want %d", got, bcrypt.DefaultCost)
	}
}

func TestBcryptHasher_TooLongIsValidationError(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("x", MaxPasswordBytes+1))
	if model.ErrorCode(err) != model.ErrCodeValidation {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}
