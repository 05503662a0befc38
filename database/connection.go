package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const applicationName = "raffler"

// DB is the raffle's Postgres connection pool
type DB struct {
	*pgxpool.Pool
}

// NewConnection opens the pool and checks the database is reachable
func NewConnection(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create raffle database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("raffle database %s unreachable: %w", config.ConnConfig.Database, err)
	}

	log.WithFields(log.Fields{
		"host":      config.ConnConfig.Host,
		"database":  config.ConnConfig.Database,
		"max_conns": config.MaxConns,
	}).Info("Connected to raffle database")
	return &DB{Pool: pool}, nil
}

// poolConfig parses the URL and applies session settings the round
// timestamps depend on. Values set in the URL win.
func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	params := config.ConnConfig.RuntimeParams
	// Round timestamps are compared against the engine clock, which runs in UTC
	if _, ok := params["timezone"]; !ok {
		params["timezone"] = "UTC"
	}
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = applicationName
	}
	return config, nil
}

// Close closes the pool
func (db *DB) Close() {
	db.Pool.Close()
}
