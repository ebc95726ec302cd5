package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bidding/internal/models"
)

const bidColumns = `id, task_id, bidder_id, bidder_email, amount, proposal, status, is_winning, is_accepted,
		created_at, updated_at, accepted_at, rejected_at, rejection_reason, propagated_at`

const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBid(row rowScanner) (models.Bid, error) {
	var bid models.Bid
	err := row.Scan(&bid.Id, &bid.TaskId, &bid.BidderId, &bid.BidderEmail, &bid.Amount, &bid.Proposal, &bid.Status,
		&bid.IsWinning, &bid.IsAccepted, &bid.CreatedAt, &bid.UpdatedAt, &bid.AcceptedAt, &bid.RejectedAt,
		&bid.RejectionReason, &bid.PropagatedAt)
	if err != nil {
		return bid, err
	}

	bid.CreatedAt = bid.CreatedAt.UTC()
	bid.UpdatedAt = bid.UpdatedAt.UTC()
	bid.AcceptedAt = utcPtr(bid.AcceptedAt)
	bid.RejectedAt = utcPtr(bid.RejectedAt)
	bid.PropagatedAt = utcPtr(bid.PropagatedAt)
	return bid, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func scanBids(rows *sql.Rows) ([]models.Bid, error) {
	defer rows.Close()

	var result []models.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("rows scan error: %w", err)
		}
		result = append(result, bid)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (repo *Repository) prepBidsQuery(filter models.BidFilter) (query string, queryParams []interface{}) {
	query = `
	SELECT
		` + bidColumns + `
	FROM bids
	$conditions$
	ORDER BY created_at $order$, id
	`

	queryParams = make([]interface{}, 0, 4)
	conditions := make([]string, 0, 4)

	if len(filter.TaskId) > 0 {
		queryParams = append(queryParams, filter.TaskId)
		conditions = append(conditions, "task_id = $$")
	}
	if len(filter.BidderId) > 0 {
		queryParams = append(queryParams, filter.BidderId)
		conditions = append(conditions, "bidder_id = $$")
	}
	if len(filter.BidderEmail) > 0 {
		queryParams = append(queryParams, filter.BidderEmail)
		conditions = append(conditions, "bidder_email = $$")
	}
	if len(filter.Statuses) > 0 {
		queryParams = append(queryParams, sliceToSQLList(filter.Statuses))
		conditions = append(conditions, "status = ANY($$::text[])")
	}

	condStr := ""
	if len(conditions) > 0 {
		for i := 0; i < len(conditions); i++ {
			conditions[i] = strings.Replace(conditions[i], "$$", "$"+strconv.Itoa(i+1), -1)
		}
		condStr = "WHERE " + strings.Join(conditions, " AND ")
	}
	query = strings.Replace(query, "$conditions$", condStr, -1)

	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	query = strings.Replace(query, "$order$", order, -1)

	return query, queryParams
}

func (repo *Repository) Bids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error) {
	query, params := repo.prepBidsQuery(filter)

	rows, err := repo.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.Bids: %w", err)
	}

	bids, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.Bids: %w", err)
	}
	return bids, nil
}

func (repo *Repository) BidByID(ctx context.Context, bidId string) (models.Bid, bool, error) {
	if uuid.Validate(bidId) != nil {
		return models.Bid{}, false, nil
	}

	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	bid, err := scanBid(repo.db.QueryRowContext(ctx, query, bidId))
	if errors.Is(err, sql.ErrNoRows) {
		return bid, false, nil
	} else if err != nil {
		return bid, false, fmt.Errorf("repository.Repository.BidByID: %w", err)
	}

	return bid, true, nil
}

func (repo *Repository) PendingTaskIDs(ctx context.Context) ([]string, error) {
	query := `
	SELECT DISTINCT
		task_id
	FROM bids
	WHERE status = $1
	ORDER BY task_id
	`

	rows, err := repo.db.QueryContext(ctx, query, models.BidPending)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.PendingTaskIDs: %w", err)
	}
	defer rows.Close()

	var result []string
	var taskId string
	for rows.Next() {
		err = rows.Scan(&taskId)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.PendingTaskIDs: rows scan error: %w", err)
		}
		result = append(result, taskId)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.PendingTaskIDs: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) UnpropagatedWinners(ctx context.Context, limit int) ([]models.Bid, error) {
	query := `
	SELECT
		` + bidColumns + `
	FROM bids
	WHERE status = $1 AND is_winning AND propagated_at IS NULL
	ORDER BY accepted_at, id
	`
	params := []any{models.BidAccepted}
	if limit > 0 {
		query += "LIMIT $2"
		params = append(params, limit)
	}

	rows, err := repo.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.UnpropagatedWinners: %w", err)
	}

	bids, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.UnpropagatedWinners: %w", err)
	}
	return bids, nil
}

func (repo *Repository) MarkPropagated(ctx context.Context, bidId string, at time.Time) error {
	res, err := repo.db.ExecContext(ctx, "UPDATE bids SET propagated_at = $1 WHERE id = $2", at, bidId)
	if err != nil {
		return fmt.Errorf("repository.Repository.MarkPropagated: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository.Repository.MarkPropagated: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository.Repository.MarkPropagated: %w", models.ErrBidNotFound)
	}
	return nil
}

//// Task transaction

type taskTx struct {
	tx     *sql.Tx
	taskId string
}

// Bids returns the bids of the locked task in selection order. The rows stay
// locked until the transaction ends.
func (t *taskTx) Bids(ctx context.Context) ([]models.Bid, error) {
	query := `
	SELECT
		` + bidColumns + `
	FROM bids
	WHERE task_id = $1
	ORDER BY amount, created_at, id
	FOR UPDATE
	`

	rows, err := t.tx.QueryContext(ctx, query, t.taskId)
	if err != nil {
		return nil, fmt.Errorf("repository.taskTx.Bids: %w", err)
	}

	bids, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.taskTx.Bids: %w", err)
	}
	return bids, nil
}

func (t *taskTx) Insert(ctx context.Context, bid models.Bid) (models.Bid, error) {
	query := `
	INSERT INTO bids (` + bidColumns + `)
	VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	bid.Id = uuid.NewString()
	bid.TaskId = t.taskId

	_, err := t.tx.ExecContext(ctx, query, bid.Id, bid.TaskId, bid.BidderId, bid.BidderEmail, bid.Amount, bid.Proposal,
		bid.Status, bid.IsWinning, bid.IsAccepted, bid.CreatedAt, bid.UpdatedAt, bid.AcceptedAt, bid.RejectedAt,
		bid.RejectionReason, bid.PropagatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return bid, models.ErrDuplicateBid
	} else if err != nil {
		return bid, fmt.Errorf("repository.taskTx.Insert: %w", err)
	}

	return bid, nil
}

func (t *taskTx) Update(ctx context.Context, bid models.Bid) error {
	query := `
	UPDATE bids
	SET (status, is_winning, is_accepted, updated_at, accepted_at, rejected_at, rejection_reason, propagated_at) =
		($1, $2, $3, $4, $5, $6, $7, $8)
	WHERE id = $9 AND task_id = $10
	`

	res, err := t.tx.ExecContext(ctx, query, bid.Status, bid.IsWinning, bid.IsAccepted, bid.UpdatedAt, bid.AcceptedAt,
		bid.RejectedAt, bid.RejectionReason, bid.PropagatedAt, bid.Id, t.taskId)
	if err != nil {
		return fmt.Errorf("repository.taskTx.Update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository.taskTx.Update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository.taskTx.Update: %w", models.ErrBidNotFound)
	}
	return nil
}
