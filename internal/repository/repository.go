package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bidding/internal/config"
	"bidding/internal/models"
	"bidding/internal/service"

	postgres "bidding/internal/repository/db"
)

type Repository struct {
	db  *sql.DB
	cfg *config.PostgresConfig
}

func NewRepository(db *sql.DB, cfg *config.PostgresConfig) (*Repository, error) {
	var err error

	repo := &Repository{
		db:  db,
		cfg: cfg,
	}

	if repo.cfg == nil {
		repo.cfg, err = config.NewPostgresConfig()
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not load postgres config: %w", err)
		}
	}

	if repo.db == nil {
		repo.db, err = postgres.NewPostgresDB(repo.cfg)
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not open postgres db: %w", err)
		}
	}

	if repo.cfg.AutoMigrateUp == "true" {
		err = repo.MigrateUp()
		if err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func (repo *Repository) MigrateUp() error {
	err := postgres.MigrateUp(repo.db, repo.cfg.MigrationsURL)
	if err != nil {
		return fmt.Errorf("repository.Repository.MigrateUp: %w", err)
	}
	return nil
}

func (repo *Repository) MigrateDown() error {
	err := postgres.MigrateDown(repo.db, repo.cfg.MigrationsURL)
	if err != nil {
		return fmt.Errorf("repository.Repository.MigrateDown: %w", err)
	}
	return nil
}

// InTask opens a transaction holding the advisory lock of taskId. The lock is
// released on commit or rollback, so placements and resolutions of one task
// never interleave while other tasks proceed in parallel.
func (repo *Repository) InTask(ctx context.Context, taskId string, fn func(ctx context.Context, tx service.LedgerTx) error) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository.Repository.InTask: failed to start transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", taskId)
	if err != nil {
		return fmt.Errorf("repository.Repository.InTask: could not lock task: %w", wrapRollbackErr(tx, err))
	}

	err = fn(ctx, &taskTx{tx: tx, taskId: taskId})
	if err != nil {
		return wrapRollbackErr(tx, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("repository.Repository.InTask: failed to commit transaction: %w", err)
	}
	return nil
}

func (repo *Repository) Close() error {
	var migErr error
	if repo.cfg.AutoMigrateDown == "true" {
		migErr = repo.MigrateDown()
	}

	err := repo.db.Close()
	return errors.Join(migErr, err)
}

//// Service

func wrapRollbackErr(tx *sql.Tx, err error) error {
	rollerr := tx.Rollback()
	if rollerr == nil {
		return err
	}
	return fmt.Errorf("failed to rollback transaction after previous error: %w, %w", rollerr, err)
}

func sliceToSQLList[T string | models.BidStatus](t []T) string {
	parts := make([]string, 0, len(t))
	for _, v := range t {
		parts = append(parts, string(v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

//// Test utils

func (repo *Repository) TestGetDB() *sql.DB {
	return repo.db
}
