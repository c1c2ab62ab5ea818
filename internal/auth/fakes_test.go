package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
)

// memUserRepo はテスト用のインメモリ UserRepository。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // id -> user

	upsertErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func clone(u *model.User) *model.User {
	c := *u
	return &c
}

func (r *memUserRepo) byEmail(email string) *model.User {
	for _, u := range r.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return clone(u), nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u := r.byEmail(email); u != nil {
		return clone(u), nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash && now.Before(*u.ResetExpiresAt) {
			return clone(u), nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) UpsertPending(ctx context.Context, user *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	if existing := r.byEmail(user.Email); existing != nil {
		if existing.IsVerified {
			return nil, nil
		}
		existing.Name = user.Name
		existing.PasswordHash = user.PasswordHash
		existing.OTPCode = user.OTPCode
		existing.OTPExpiresAt = user.OTPExpiresAt
		existing.UpdatedAt = user.UpdatedAt
		return clone(existing), nil
	}
	r.users[user.ID] = clone(user)
	return clone(user), nil
}

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byEmail(user.Email) != nil {
		return model.NewConflictError()
	}
	r.users[user.ID] = clone(user)
	return nil
}

func (r *memUserRepo) update(id string, fn func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.NewUserNotFoundError()
	}
	fn(u)
	return nil
}

func (r *memUserRepo) MarkVerified(ctx context.Context, id string) error {
	return r.update(id, func(u *model.User) {
		u.IsVerified = true
		u.OTPCode = nil
		u.OTPExpiresAt = nil
	})
}

func (r *memUserRepo) AttachGoogleID(ctx context.Context, id, googleID string) error {
	return r.update(id, func(u *model.User) {
		if !u.IsVerified {
			u.PasswordHash = nil
			u.ResetTokenHash = nil
			u.ResetExpiresAt = nil
		}
		u.GoogleID = &googleID
		u.IsVerified = true
		u.OTPCode = nil
		u.OTPExpiresAt = nil
	})
}

func (r *memUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	return r.update(user.ID, func(u *model.User) {
		u.Name = user.Name
		u.Email = user.Email
		u.PasswordHash = user.PasswordHash
	})
}

func (r *memUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (r *memUserRepo) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(u *model.User) {
		u.ResetTokenHash = &tokenHash
		u.ResetExpiresAt = &expiresAt
	})
}

func (r *memUserRepo) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash && now.Before(*u.ResetExpiresAt) {
			u.PasswordHash = &passwordHash
			u.ResetTokenHash = nil
			u.ResetExpiresAt = nil
			return u.ID, true, nil
		}
	}
	return "", false, nil
}

func (r *memUserRepo) ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

var _ repository.UserRepository = (*memUserRepo)(nil)

// sentMail は送信されたメールの記録。
type sentMail struct {
	kind string
	to   string
	body string
}

type mockNotifier struct {
	sent []sentMail
	err  error
}

func (m *mockNotifier) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{kind: "otp", to: to, body: code})
	return nil
}

func (m *mockNotifier) SendPasswordReset(ctx context.Context, to, resetURL string, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{kind: "reset", to: to, body: resetURL})
	return nil
}

var _ Notifier = (*mockNotifier)(nil)

// plainHasher はテスト高速化のための可逆でないダミーハッシュ。
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// testClock は進められる時計。
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	svc      *Service
	repo     *memUserRepo
	notifier *mockNotifier
	tokens   *TokenIssuer
	clock    *testClock
}

func newTestEnv(verifier IdentityVerifier) *testEnv {
	clock := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tokens, _ := NewTokenIssuer("test-secret", time.Hour)
	tokens.now = clock.Now
	repo := newMemUserRepo()
	notifier := &mockNotifier{}
	svc := NewService(repo, tokens, notifier, verifier, ServiceConfig{
		ResetURLBase: "http://localhost:3000/reset-password/",
		OTP:          FixedOTPGenerator("123456"),
		Hasher:       plainHasher{},
		Now:          clock.Now,
	}, discardLogger())
	return &testEnv{svc: svc, repo: repo, notifier: notifier, tokens: tokens, clock: clock}
}
