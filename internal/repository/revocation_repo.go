package repository

import (
	"context"
	"fmt"
	"time"
)

type RevocationRepository struct {
	db Querier
}

func NewRevocationRepository(db Querier) *RevocationRepository {
	return &RevocationRepository{db: db}
}

// Revoke records the token id and reports whether this call inserted it.
// Revoking an id twice keeps the first entry.
func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at, revoked_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (token_id) DO NOTHING`,
		tokenID, expiresAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = $1)`, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// CleanExpired drops entries whose token would already be rejected on expiry.
func (r *RevocationRepository) CleanExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("clean expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}
