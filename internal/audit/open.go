package audit

import (
	"context"
	"fmt"

	"github.com/autoscore/autoscore/internal/config"
	"github.com/autoscore/autoscore/internal/connector"
)

// ConnectionName is the registry name of the audit database connection.
const ConnectionName = "audit"

// Open builds the sink selected by cfg. SQL drivers are resolved through reg
// and migrated before Open returns.
func Open(ctx context.Context, cfg config.AuditConfig, reg *connector.Registry) (Sink, error) {
	if !cfg.Enabled {
		return NopSink{}, nil
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemorySink(), nil
	case config.DriverFile:
		return NewFileSink(cfg.File)
	}

	lifetime, idle := cfg.Pool.Durations()
	conn, err := reg.Connect(ConnectionName, connector.ConnectionConfig{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		ConnMaxLifetime: lifetime,
		ConnMaxIdleTime: idle,
		PrivateKeyPath:  cfg.PrivateKeyPath,
	})
	if err != nil {
		return nil, storageErr("open", err)
	}

	store := NewSQLStore(conn)
	if err := store.Migrate(ctx); err != nil {
		reg.Disconnect(ConnectionName)
		return nil, fmt.Errorf("open %s audit store: %w", cfg.Driver, err)
	}
	return store, nil
}
