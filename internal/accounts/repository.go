package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmdesk/helmdesk/internal/shared"
)

// Repository defines persistence operations for accounts and lockout state.
type Repository interface {
	FindByIdentity(ctx context.Context, identity string) (*Account, error)
	FindByPublicID(ctx context.Context, publicID string) (*Account, error)
	RecordFailedAttempt(ctx context.Context, accountID int64, threshold int, lockFor time.Duration) (attempts int, locked bool, err error)
	SetVerificationCode(ctx context.Context, accountID int64, code string, expiresAt time.Time) error
	ConsumeVerificationCode(ctx context.Context, accountID int64, code string, now time.Time) (bool, error)
	TouchLogin(ctx context.Context, accountID int64, at time.Time) error
	SetOffline(ctx context.Context, accountID int64) error
	UnlockExpired(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const accountColumns = `a.id, a.public_id, a.email, a.username, a.phone, a.password_hash,
	a.role_id, r.name, a.superadmin, a.is_active,
	a.require_two_factor, a.verification_code, a.verification_expires_at,
	a.login_attempts, a.locked, a.auto_unlock_at,
	a.last_login_at, a.online, a.created_at, a.updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.PublicID, &a.Email, &a.Username, &a.Phone, &a.PasswordHash,
		&a.RoleID, &a.RoleName, &a.Superadmin, &a.IsActive,
		&a.RequireTwoFactor, &a.VerificationCode, &a.VerificationExpiresAt,
		&a.LoginAttempts, &a.Locked, &a.AutoUnlockAt,
		&a.LastLoginAt, &a.Online, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindByIdentity resolves an account by email, username or phone.
func (r *PGRepository) FindByIdentity(ctx context.Context, identity string) (*Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		JOIN roles r ON r.id = a.role_id
		WHERE a.email = $1 OR a.username = $1 OR a.phone = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, identity))
}

// FindByPublicID resolves an account by its external identifier.
func (r *PGRepository) FindByPublicID(ctx context.Context, publicID string) (*Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		JOIN roles r ON r.id = a.role_id
		WHERE a.public_id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, publicID))
}

// RecordFailedAttempt bumps the bounded attempt counter and locks the account
// when the threshold is crossed. A single statement keeps concurrent failures
// and the unlock sweep free of lost updates.
func (r *PGRepository) RecordFailedAttempt(ctx context.Context, accountID int64, threshold int, lockFor time.Duration) (int, bool, error) {
	var attempts int
	var locked bool
	err := r.pool.QueryRow(ctx,
		`UPDATE accounts SET
			login_attempts = LEAST(login_attempts + 1, $2),
			locked = locked OR LEAST(login_attempts + 1, $2) >= $3,
			auto_unlock_at = CASE
				WHEN NOT locked AND LEAST(login_attempts + 1, $2) >= $3 THEN $4
				ELSE auto_unlock_at
			END,
			updated_at = now()
		WHERE id = $1
		RETURNING login_attempts, locked`,
		accountID, attemptCap, threshold, time.Now().UTC().Add(lockFor),
	).Scan(&attempts, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, shared.ErrNotFound
		}
		return 0, false, err
	}
	return attempts, locked, nil
}

// SetVerificationCode stores a fresh one-time code with its absolute expiry.
func (r *PGRepository) SetVerificationCode(ctx context.Context, accountID int64, code string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET verification_code = $2, verification_expires_at = $3, updated_at = now()
			WHERE id = $1`,
		accountID, code, expiresAt.UTC(),
	)
	return err
}

// ConsumeVerificationCode nulls the stored code iff it matches and has not
// expired. The match and the consume are one statement, so the code is
// single-use even under concurrent verify calls.
func (r *PGRepository) ConsumeVerificationCode(ctx context.Context, accountID int64, code string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET verification_code = NULL, verification_expires_at = NULL, updated_at = now()
			WHERE id = $1 AND verification_code = $2 AND verification_expires_at > $3`,
		accountID, code, now.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLogin records a successful issuance: presence, last-login and a zeroed
// attempt counter.
func (r *PGRepository) TouchLogin(ctx context.Context, accountID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_login_at = $2, online = TRUE, login_attempts = 0, updated_at = now()
			WHERE id = $1`,
		accountID, at.UTC(),
	)
	return err
}

// SetOffline clears the presence flag on logout.
func (r *PGRepository) SetOffline(ctx context.Context, accountID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET online = FALSE, updated_at = now() WHERE id = $1`,
		accountID,
	)
	return err
}

// UnlockExpired resets every account whose lock window has elapsed. The WHERE
// clause re-checks the lock timestamp at update time, so a lock taken after
// the sweep started is never cleared.
func (r *PGRepository) UnlockExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET locked = FALSE, login_attempts = 0, auto_unlock_at = NULL, updated_at = now()
			WHERE locked AND auto_unlock_at IS NOT NULL AND auto_unlock_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
