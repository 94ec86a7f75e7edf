package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmdesk/helmdesk/internal/shared"
)

// Token is the single active session record for an account.
type Token struct {
	ID        string
	AccountID int64
	ExpiresAt time.Time
	IP        string
	Client    string
	CreatedAt time.Time
}

// TokenRepository persists the one-active-token-per-account state.
type TokenRepository interface {
	Upsert(ctx context.Context, token Token) error
	GetByAccount(ctx context.Context, accountID int64) (*Token, error)
	DeleteByAccount(ctx context.Context, accountID int64) error
}

// PGTokenRepository implements TokenRepository using PostgreSQL.
type PGTokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository constructs a PostgreSQL token repository.
func NewTokenRepository(pool *pgxpool.Pool) *PGTokenRepository {
	return &PGTokenRepository{pool: pool}
}

var _ TokenRepository = (*PGTokenRepository)(nil)

// Upsert replaces any previous token for the account in one statement, so a
// concurrent second login can never leave two valid tokens.
func (r *PGTokenRepository) Upsert(ctx context.Context, token Token) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_tokens (id, account_id, expires_at, ip, client, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (account_id) DO UPDATE SET
				id = EXCLUDED.id,
				expires_at = EXCLUDED.expires_at,
				ip = EXCLUDED.ip,
				client = EXCLUDED.client,
				created_at = now()`,
		token.ID, token.AccountID, token.ExpiresAt.UTC(), token.IP, token.Client,
	)
	return err
}

// GetByAccount returns the stored token for the account.
func (r *PGTokenRepository) GetByAccount(ctx context.Context, accountID int64) (*Token, error) {
	var t Token
	err := r.pool.QueryRow(ctx,
		`SELECT id, account_id, expires_at, ip, client, created_at
			FROM session_tokens WHERE account_id = $1`,
		accountID,
	).Scan(&t.ID, &t.AccountID, &t.ExpiresAt, &t.IP, &t.Client, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteByAccount removes the stored token. Deleting an absent row is a no-op,
// which keeps logout idempotent.
func (r *PGTokenRepository) DeleteByAccount(ctx context.Context, accountID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM session_tokens WHERE account_id = $1`, accountID)
	return err
}
