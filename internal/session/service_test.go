package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/shared"
	_ "github.com/helmdesk/helmdesk/testing"
)

// ============================================================================
// FAKES
// ============================================================================

const attemptCap = 50

type fakeAccountRepo struct {
	accounts map[int64]*accounts.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[int64]*accounts.Account)}
}

func clone(a *accounts.Account) *accounts.Account {
	copied := *a
	return &copied
}

func (f *fakeAccountRepo) FindByIdentity(ctx context.Context, identity string) (*accounts.Account, error) {
	for _, a := range f.accounts {
		if a.Email == identity || a.Username == identity || (a.Phone != "" && a.Phone == identity) {
			return clone(a), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeAccountRepo) FindByPublicID(ctx context.Context, publicID string) (*accounts.Account, error) {
	for _, a := range f.accounts {
		if a.PublicID == publicID {
			return clone(a), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeAccountRepo) RecordFailedAttempt(ctx context.Context, accountID int64, threshold int, lockFor time.Duration) (int, bool, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return 0, false, shared.ErrNotFound
	}
	if a.LoginAttempts < attemptCap {
		a.LoginAttempts++
	}
	if !a.Locked && a.LoginAttempts >= threshold {
		a.Locked = true
		unlockAt := time.Now().UTC().Add(lockFor)
		a.AutoUnlockAt = &unlockAt
	}
	return a.LoginAttempts, a.Locked, nil
}

func (f *fakeAccountRepo) SetVerificationCode(ctx context.Context, accountID int64, code string, expiresAt time.Time) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return shared.ErrNotFound
	}
	a.VerificationCode = &code
	a.VerificationExpiresAt = &expiresAt
	return nil
}

func (f *fakeAccountRepo) ConsumeVerificationCode(ctx context.Context, accountID int64, code string, now time.Time) (bool, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return false, shared.ErrNotFound
	}
	if a.VerificationCode == nil || *a.VerificationCode != code {
		return false, nil
	}
	if a.VerificationExpiresAt == nil || !a.VerificationExpiresAt.After(now) {
		return false, nil
	}
	a.VerificationCode = nil
	a.VerificationExpiresAt = nil
	return true, nil
}

func (f *fakeAccountRepo) TouchLogin(ctx context.Context, accountID int64, at time.Time) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return shared.ErrNotFound
	}
	a.LastLoginAt = &at
	a.Online = true
	a.LoginAttempts = 0
	return nil
}

func (f *fakeAccountRepo) SetOffline(ctx context.Context, accountID int64) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return shared.ErrNotFound
	}
	a.Online = false
	return nil
}

func (f *fakeAccountRepo) UnlockExpired(ctx context.Context, now time.Time) (int64, error) {
	var unlocked int64
	for _, a := range f.accounts {
		if a.Locked && a.AutoUnlockAt != nil && !a.AutoUnlockAt.After(now) {
			a.Locked = false
			a.LoginAttempts = 0
			a.AutoUnlockAt = nil
			unlocked++
		}
	}
	return unlocked, nil
}

var _ accounts.Repository = (*fakeAccountRepo)(nil)

type memTokenRepo struct {
	tokens map[int64]Token
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[int64]Token)}
}

func (m *memTokenRepo) Upsert(ctx context.Context, token Token) error {
	m.tokens[token.AccountID] = token
	return nil
}

func (m *memTokenRepo) GetByAccount(ctx context.Context, accountID int64) (*Token, error) {
	token, ok := m.tokens[accountID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &token, nil
}

func (m *memTokenRepo) DeleteByAccount(ctx context.Context, accountID int64) error {
	delete(m.tokens, accountID)
	return nil
}

var _ TokenRepository = (*memTokenRepo)(nil)

type stubCaptcha struct {
	err    error
	tokens []string
}

func (s *stubCaptcha) Verify(ctx context.Context, token, remoteIP string) error {
	s.tokens = append(s.tokens, token)
	return s.err
}

type stubCodeSender struct {
	destination string
	code        string
	channel     string
	calls       int
}

func (s *stubCodeSender) EnqueueSendCode(ctx context.Context, destination, code, channel string) error {
	s.destination = destination
	s.code = code
	s.channel = channel
	s.calls++
	return nil
}

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload any) error {
	p.events = append(p.events, payload)
	return nil
}

// ============================================================================
// FIXTURE
// ============================================================================

const (
	testPassword = "correct-horse-battery"
	testPublicID = "3f1c9a12-6f6e-4f2e-9f5c-0db1f4b2a7c1"
)

type fixture struct {
	repo      *fakeAccountRepo
	tokens    *memTokenRepo
	issuer    *TokenIssuer
	accounts  *accounts.Service
	publisher *capturePublisher
	service   *Service
	account   *accounts.Account
}

func newFixture(t *testing.T, opts ...func(*accounts.Account)) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	account := &accounts.Account{
		ID:           1,
		PublicID:     testPublicID,
		Email:        "ops@example.com",
		Username:     "ops",
		Phone:        "+15550001111",
		PasswordHash: string(hash),
		RoleID:       1,
		RoleName:     "ADMIN",
		IsActive:     true,
	}
	for _, opt := range opts {
		opt(account)
	}

	repo := newFakeAccountRepo()
	repo.accounts[account.ID] = account

	publisher := &capturePublisher{}
	accountsSvc := accounts.NewService(slog.Default(), repo, accounts.LockoutConfig{
		Threshold:    3,
		LockDuration: 30 * time.Minute,
	}, publisher)

	tokens := newMemTokenRepo()
	issuer := NewTokenIssuer("test-secret", time.Hour, 720*time.Hour)
	service := NewService(slog.Default(), accountsSvc, tokens, issuer, nil, nil, 5*time.Minute)

	return &fixture{
		repo:      repo,
		tokens:    tokens,
		issuer:    issuer,
		accounts:  accountsSvc,
		publisher: publisher,
		service:   service,
		account:   account,
	}
}

func (f *fixture) login(t *testing.T, password string) (*LoginResult, error) {
	t.Helper()
	return f.service.Login(context.Background(), LoginRequest{
		Identity: f.account.Email,
		Password: password,
		IP:       "203.0.113.7",
		Client:   "test-suite",
	})
}

// ============================================================================
// TESTS
// ============================================================================

func TestLoginIssuesToken(t *testing.T) {
	f := newFixture(t)
	f.account.LoginAttempts = 2

	result, err := f.login(t, testPassword)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, result.State)
	require.NotEmpty(t, result.Token)
	assert.True(t, result.ExpiresAt.After(time.Now()))

	claims, err := f.issuer.Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, testPublicID, claims.Identity)
	assert.Equal(t, "ADMIN", claims.RoleName)

	stored, err := f.tokens.GetByAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, stored.ID)
	assert.Equal(t, "203.0.113.7", stored.IP)

	// A successful issuance resets the counter and records presence.
	assert.Zero(t, f.account.LoginAttempts)
	assert.True(t, f.account.Online)
	require.NotNil(t, f.account.LastLoginAt)
}

func TestLoginByUsernameAndPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, identity := range []string{"ops", "+15550001111"} {
		result, err := f.service.Login(ctx, LoginRequest{Identity: identity, Password: testPassword})
		require.NoErrorf(t, err, "identity %s", identity)
		assert.Equal(t, StateAuthenticated, result.State)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(t, "wrong-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Equal(t, 1, f.account.LoginAttempts)
	assert.False(t, f.account.Locked)

	// Unknown identities and inactive accounts surface the same error, so the
	// response never reveals whether an account exists.
	_, err = f.service.Login(context.Background(), LoginRequest{Identity: "nobody@example.com", Password: testPassword})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	f.account.IsActive = false
	_, err = f.login(t, testPassword)
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLockoutAfterThreshold(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.login(t, "wrong-password")
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	assert.True(t, f.account.Locked)
	require.NotNil(t, f.account.AutoUnlockAt)
	assert.True(t, f.account.AutoUnlockAt.After(time.Now()))

	// The lock transition was published exactly once.
	require.Len(t, f.publisher.events, 1)
	event, ok := f.publisher.events[0].(accounts.LockEvent)
	require.True(t, ok)
	assert.Equal(t, testPublicID, event.AccountID)
	assert.True(t, event.Locked)

	// Even the correct password is rejected while the window is open.
	_, err := f.login(t, testPassword)
	assert.ErrorIs(t, err, shared.ErrAccountLocked)
}

func TestElapsedLockWindowAdmitsLogin(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-time.Minute)
	f.account.Locked = true
	f.account.LoginAttempts = 3
	f.account.AutoUnlockAt = &past

	// The sweep may not have run yet; an elapsed window counts as unlocked.
	result, err := f.login(t, testPassword)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, result.State)
}

func TestUnlockSweepResetsExpiredLocks(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	f.account.Locked = true
	f.account.LoginAttempts = 5
	f.account.AutoUnlockAt = &past

	stillLocked := &accounts.Account{
		ID: 2, PublicID: "b2", Email: "other@example.com", Username: "other",
		PasswordHash: f.account.PasswordHash, RoleID: 1, RoleName: "ADMIN",
		IsActive: true, Locked: true, LoginAttempts: 5, AutoUnlockAt: &future,
	}
	f.repo.accounts[stillLocked.ID] = stillLocked

	unlocked, err := f.accounts.UnlockExpiredAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), unlocked)

	assert.False(t, f.account.Locked)
	assert.Zero(t, f.account.LoginAttempts)
	assert.Nil(t, f.account.AutoUnlockAt)

	// An unexpired lock survives the sweep.
	assert.True(t, stillLocked.Locked)
}

func TestSingleActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.login(t, testPassword)
	require.NoError(t, err)
	second, err := f.login(t, testPassword)
	require.NoError(t, err)

	// The second login displaced the first token.
	_, err = f.service.Authenticate(ctx, first.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	claims, err := f.service.Authenticate(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, testPublicID, claims.Identity)
	assert.Equal(t, "ADMIN", claims.RoleName)
}

func TestTwoFactorFlow(t *testing.T) {
	f := newFixture(t, func(a *accounts.Account) { a.RequireTwoFactor = true })
	sender := &stubCodeSender{}
	f.service = NewService(slog.Default(), f.accounts, f.tokens, f.issuer, nil, sender, 5*time.Minute)
	ctx := context.Background()

	result, err := f.login(t, testPassword)
	require.NoError(t, err)
	assert.Equal(t, StateVerificationRequired, result.State)
	assert.Empty(t, result.Token, "no token before the second factor")

	require.Equal(t, 1, sender.calls)
	assert.Equal(t, f.account.Email, sender.destination)
	assert.Equal(t, "email", sender.channel)
	assert.Len(t, sender.code, 6)

	wrongCode := "000000"
	if sender.code == wrongCode {
		wrongCode = "000001"
	}
	_, err = f.service.Verify(ctx, f.account.Email, wrongCode, false, "", "")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Equal(t, 1, f.account.LoginAttempts)

	verified, err := f.service.Verify(ctx, f.account.Email, sender.code, false, "", "")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, verified.State)
	assert.NotEmpty(t, verified.Token)

	// The code was consumed; replaying it fails.
	_, err = f.service.Verify(ctx, f.account.Email, sender.code, false, "", "")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestTwoFactorCodeExpires(t *testing.T) {
	f := newFixture(t, func(a *accounts.Account) { a.RequireTwoFactor = true })
	sender := &stubCodeSender{}
	f.service = NewService(slog.Default(), f.accounts, f.tokens, f.issuer, nil, sender, 5*time.Minute)

	_, err := f.login(t, testPassword)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Second)
	f.account.VerificationExpiresAt = &past

	_, err = f.service.Verify(context.Background(), f.account.Email, sender.code, false, "", "")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestCaptchaFailureBlocksLogin(t *testing.T) {
	f := newFixture(t)
	captchaErr := errors.New("captcha: low score")
	f.service = NewService(slog.Default(), f.accounts, f.tokens, f.issuer, &stubCaptcha{err: captchaErr}, nil, 5*time.Minute)

	_, err := f.login(t, testPassword)
	assert.ErrorIs(t, err, captchaErr)
	// A failed challenge is not a failed credential check.
	assert.Zero(t, f.account.LoginAttempts)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.login(t, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, testPublicID))
	assert.False(t, f.account.Online)

	_, err = f.service.Authenticate(ctx, result.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	require.NoError(t, f.service.Logout(ctx, testPublicID))
	require.NoError(t, f.service.Logout(ctx, "unknown-identity"))
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Authenticate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}
