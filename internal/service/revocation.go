package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RevocationRegistry records revoked token ids. Revoke reports false when the
// id was already present, which lets callers treat it as a one-time claim.
type RevocationRegistry interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RevocationCleaner drops entries whose tokens have already expired.
type RevocationCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// MemoryRevocations is a process-local registry. Entries are kept until
// CleanExpired runs; without a cleanup ticker they are never dropped.
type MemoryRevocations struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		entries: map[string]time.Time{},
		now:     time.Now,
	}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[tokenID]; exists {
		return false, nil
	}
	m.entries[tokenID] = expiresAt
	return true, nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	_, revoked := m.entries[tokenID]
	m.mu.RUnlock()
	return revoked, nil
}

func (m *MemoryRevocations) CleanExpired(_ context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, expiresAt := range m.entries {
		if !expiresAt.After(now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryRevocations) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartRevocationCleanup runs CleanExpired on a regular interval until ctx is
// cancelled. A non-positive interval disables cleanup.
func StartRevocationCleanup(ctx context.Context, cleaner RevocationCleaner, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleaner.CleanExpired(ctx)
			if err != nil {
				slog.Warn("revocation cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("revocation cleanup", "removed", removed)
			}
		}
	}
}
