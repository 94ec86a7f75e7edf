package accounts

import (
	"context"
	"log/slog"
	"time"
)

// Publisher fans lock-state events out to connected clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// TopicAccountLock is the pub/sub topic for lock-state transitions.
const TopicAccountLock = "accounts.lock"

// LockEvent describes a lock-state transition.
type LockEvent struct {
	AccountID    string     `json:"account_id"`
	Locked       bool       `json:"locked"`
	AutoUnlockAt *time.Time `json:"auto_unlock_at,omitempty"`
}

// LockoutConfig tunes the failed-attempt lockout behaviour.
type LockoutConfig struct {
	Threshold    int
	LockDuration time.Duration
}

// Service resolves identities and owns the account lockout lifecycle.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	lockout   LockoutConfig
	publisher Publisher
}

// NewService constructs a Service. The publisher may be nil.
func NewService(logger *slog.Logger, repo Repository, lockout LockoutConfig, publisher Publisher) *Service {
	return &Service{logger: logger, repo: repo, lockout: lockout, publisher: publisher}
}

// ResolveIdentity looks up an account by its identity claim (email, username
// or phone). Returns NotFound when absent.
func (s *Service) ResolveIdentity(ctx context.Context, identity string) (*Account, error) {
	return s.repo.FindByIdentity(ctx, identity)
}

// GetByPublicID resolves an account by its external identifier.
func (s *Service) GetByPublicID(ctx context.Context, publicID string) (*Account, error) {
	return s.repo.FindByPublicID(ctx, publicID)
}

// RecordFailure counts one failed credential check toward lockout. When the
// account crosses the threshold it is locked with a scheduled unlock time and
// a lock event is published.
func (s *Service) RecordFailure(ctx context.Context, account *Account) error {
	attempts, locked, err := s.repo.RecordFailedAttempt(ctx, account.ID, s.lockout.Threshold, s.lockout.LockDuration)
	if err != nil {
		return err
	}
	if locked && !account.Locked {
		unlockAt := time.Now().UTC().Add(s.lockout.LockDuration)
		s.logger.Warn("account locked",
			slog.String("account", account.PublicID),
			slog.Int("attempts", attempts))
		s.publishLock(ctx, LockEvent{AccountID: account.PublicID, Locked: true, AutoUnlockAt: &unlockAt})
	}
	return nil
}

// IsLocked reports whether the account is inside an active lock window.
func (s *Service) IsLocked(account *Account, now time.Time) bool {
	if !account.Locked {
		return false
	}
	// The sweep may lag; treat an elapsed window as unlocked.
	if account.AutoUnlockAt != nil && !account.AutoUnlockAt.After(now) {
		return false
	}
	return true
}

// BeginVerification stores a fresh one-time code on the account.
func (s *Service) BeginVerification(ctx context.Context, account *Account, code string, expiresAt time.Time) error {
	return s.repo.SetVerificationCode(ctx, account.ID, code, expiresAt)
}

// ConsumeVerification atomically consumes the stored code. It reports false
// when the code does not match or has expired; the code is nulled on success.
func (s *Service) ConsumeVerification(ctx context.Context, account *Account, code string) (bool, error) {
	return s.repo.ConsumeVerificationCode(ctx, account.ID, code, time.Now().UTC())
}

// TouchLogin records presence and last-login after a successful issuance.
func (s *Service) TouchLogin(ctx context.Context, account *Account) error {
	return s.repo.TouchLogin(ctx, account.ID, time.Now().UTC())
}

// SetOffline clears presence on logout.
func (s *Service) SetOffline(ctx context.Context, account *Account) error {
	return s.repo.SetOffline(ctx, account.ID)
}

// UnlockExpiredAccounts resets every account whose lock window has elapsed in
// one bulk update and reports how many were unlocked.
func (s *Service) UnlockExpiredAccounts(ctx context.Context) (int64, error) {
	unlocked, err := s.repo.UnlockExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if unlocked > 0 {
		s.logger.Info("auto-unlocked accounts", slog.Int64("count", unlocked))
	}
	return unlocked, nil
}

func (s *Service) publishLock(ctx context.Context, event LockEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, TopicAccountLock, event); err != nil {
		s.logger.Warn("publish lock event", slog.Any("error", err))
	}
}
