package postgres

import (
	"context"
	"fmt"

	"signal_bridge/internal/modules/config"
	"signal_bridge/pkg/db"
)

// NewTxManager opens the pool and checks the connection.
func NewTxManager(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: cfg.Ledger.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, err
	}

	return db.NewPgTxManager(poolMaster), nil
}
