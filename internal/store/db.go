package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingInterval = 500 * time.Millisecond

// Open connects through the pgx driver. When wait is positive it keeps
// pinging until the server answers or wait elapses, so the API can start
// alongside its database.
func Open(ctx context.Context, databaseURL string, wait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	deadline := time.Now().Add(wait)
	for {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(pingInterval):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("ping db: %w", err)
}
