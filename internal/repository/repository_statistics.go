package repository

import (
	"context"
	"fmt"

	"bidding/internal/models"
)

func (repo *Repository) StatusCounts(ctx context.Context) (models.BidStatistics, error) {
	query := `
	SELECT
		status,
		COUNT(*),
		COUNT(*) FILTER (WHERE is_winning)
	FROM bids
	GROUP BY status
	`

	var stats models.BidStatistics

	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return stats, fmt.Errorf("repository.Repository.StatusCounts: %w", err)
	}
	defer rows.Close()

	var status models.BidStatus
	var count, winning int

	for rows.Next() {
		err = rows.Scan(&status, &count, &winning)
		if err != nil {
			return stats, fmt.Errorf("repository.Repository.StatusCounts: rows scan failed: %w", err)
		}

		stats.Total += count
		stats.Winning += winning
		switch status {
		case models.BidPending:
			stats.Pending = count
		case models.BidAccepted:
			stats.Accepted = count
		case models.BidRejected:
			stats.Rejected = count
		case models.BidWithdrawn:
			stats.Withdrawn = count
		}
	}

	if rows.Err() != nil {
		return stats, fmt.Errorf("repository.Repository.StatusCounts: %w", rows.Err())
	}

	return stats, nil
}
