package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/lib/pq"

	"bidding/internal/config"
)

func NewPostgresDB(cfg *config.PostgresConfig) (*sql.DB, error) {
	slog.Info("connecting db", slog.String("caller", "postgres"), slog.String("conn", redact(cfg.Conn)))
	db, err := sql.Open("postgres", cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("db.NewPostgresDB: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("db.NewPostgresDB: %w", err)
	}

	return db, nil
}

func redact(conn string) string {
	u, err := url.Parse(conn)
	if err != nil {
		return "<unparsable>"
	}
	return u.Redacted()
}
