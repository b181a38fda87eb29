package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"calculator-api/internal/repository"
	"calculator-api/internal/service"
)

// NewConnOpener hands the session resolver a dedicated pooled connection per
// lookup. The connection goes back to the pool when release is called.
func NewConnOpener(pool *pgxpool.Pool) service.ConnOpener {
	return service.ConnOpenerFunc(func(ctx context.Context) (service.UserFinder, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire connection: %w", err)
		}
		return repository.NewUserRepository(conn), conn.Release, nil
	})
}
