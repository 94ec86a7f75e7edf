package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/shared"
)

// CaptchaVerifier checks an external bot-challenge token. Implementations fail
// closed below their trust-score threshold.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// CodeEnqueuer dispatches out-of-band delivery of a verification code.
type CodeEnqueuer interface {
	EnqueueSendCode(ctx context.Context, destination, code, channel string) error
}

// Login result states.
const (
	StateAuthenticated        = "authenticated"
	StateVerificationRequired = "verification_required"
)

// LoginRequest carries one login attempt.
type LoginRequest struct {
	Identity     string
	Password     string
	CaptchaToken string
	Remember     bool
	IP           string
	Client       string
}

// LoginResult is the outcome of a login or verify call.
type LoginResult struct {
	State     string    `json:"state"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Service runs the multi-step authentication state machine and enforces the
// single-active-session invariant.
type Service struct {
	logger   *slog.Logger
	accounts *accounts.Service
	tokens   TokenRepository
	issuer   *TokenIssuer
	captcha  CaptchaVerifier
	sender   CodeEnqueuer
	codeTTL  time.Duration
}

// NewService constructs a Service. Captcha and sender may be nil; the bot
// check is then skipped and codes are only stored, not delivered.
func NewService(logger *slog.Logger, accountsSvc *accounts.Service, tokens TokenRepository, issuer *TokenIssuer, captcha CaptchaVerifier, sender CodeEnqueuer, codeTTL time.Duration) *Service {
	return &Service{
		logger:   logger,
		accounts: accountsSvc,
		tokens:   tokens,
		issuer:   issuer,
		captcha:  captcha,
		sender:   sender,
		codeTTL:  codeTTL,
	}
}

// Login verifies credentials and either issues a token or parks the attempt in
// the verification-required state when the account uses a second factor.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	account, err := s.resolve(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if s.accounts.IsLocked(account, time.Now().UTC()) {
		return nil, shared.ErrAccountLocked
	}
	if s.captcha != nil {
		if err := s.captcha.Verify(ctx, req.CaptchaToken, req.IP); err != nil {
			return nil, err
		}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		if err := s.accounts.RecordFailure(ctx, account); err != nil {
			s.logger.Error("record failed attempt", slog.Any("error", err))
		}
		return nil, shared.ErrInvalidCredentials
	}

	if account.RequireTwoFactor {
		if err := s.beginVerification(ctx, account); err != nil {
			return nil, err
		}
		return &LoginResult{State: StateVerificationRequired}, nil
	}

	return s.issue(ctx, account, req.Remember, req.IP, req.Client)
}

// Verify completes a two-factor login. The code is single-use: it is consumed
// atomically on success.
func (s *Service) Verify(ctx context.Context, identity, code string, remember bool, ip, client string) (*LoginResult, error) {
	account, err := s.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	if s.accounts.IsLocked(account, time.Now().UTC()) {
		return nil, shared.ErrAccountLocked
	}
	consumed, err := s.accounts.ConsumeVerification(ctx, account, code)
	if err != nil {
		return nil, err
	}
	if !consumed {
		if err := s.accounts.RecordFailure(ctx, account); err != nil {
			s.logger.Error("record failed attempt", slog.Any("error", err))
		}
		return nil, shared.ErrInvalidCredentials
	}
	return s.issue(ctx, account, remember, ip, client)
}

// Authenticate resolves a bearer token to verified claims. The token must be
// validly signed, unexpired and still be the account's stored session: a later
// login replaces the stored token ID and invalidates this one.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*shared.Claims, error) {
	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByPublicID(ctx, claims.Identity)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	stored, err := s.tokens.GetByAccount(ctx, account.ID)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	now := time.Now().UTC()
	if stored.ID != claims.ID || stored.ExpiresAt.Before(now) {
		return nil, shared.ErrUnauthorized
	}
	return &shared.Claims{Identity: claims.Identity, RoleName: claims.RoleName}, nil
}

// Logout invalidates the stored token for the identity. Idempotent.
func (s *Service) Logout(ctx context.Context, identity string) error {
	account, err := s.accounts.GetByPublicID(ctx, identity)
	if err != nil {
		return nil
	}
	if err := s.tokens.DeleteByAccount(ctx, account.ID); err != nil {
		return err
	}
	if err := s.accounts.SetOffline(ctx, account); err != nil {
		s.logger.Warn("set offline", slog.Any("error", err))
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, identity string) (*accounts.Account, error) {
	account, err := s.accounts.ResolveIdentity(ctx, identity)
	if err != nil {
		// Do not leak account existence through a distinct error.
		return nil, shared.ErrInvalidCredentials
	}
	if !account.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

func (s *Service) beginVerification(ctx context.Context, account *accounts.Account) error {
	code, err := generateCode()
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(s.codeTTL)
	if err := s.accounts.BeginVerification(ctx, account, code, expiresAt); err != nil {
		return err
	}
	if s.sender == nil {
		return nil
	}
	destination, channel := account.Email, "email"
	if destination == "" {
		destination, channel = account.Phone, "sms"
	}
	if err := s.sender.EnqueueSendCode(ctx, destination, code, channel); err != nil {
		s.logger.Error("enqueue verification code", slog.Any("error", err))
	}
	return nil
}

func (s *Service) issue(ctx context.Context, account *accounts.Account, remember bool, ip, client string) (*LoginResult, error) {
	now := time.Now().UTC()
	signed, jti, expiresAt, err := s.issuer.Issue(account.PublicID, account.RoleName, remember, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Upsert(ctx, Token{
		ID:        jti,
		AccountID: account.ID,
		ExpiresAt: expiresAt,
		IP:        ip,
		Client:    client,
	}); err != nil {
		return nil, err
	}
	if err := s.accounts.TouchLogin(ctx, account); err != nil {
		s.logger.Warn("touch login", slog.Any("error", err))
	}
	return &LoginResult{State: StateAuthenticated, Token: signed, ExpiresAt: expiresAt}, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("session: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
