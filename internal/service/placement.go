package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"bidding/internal/models"
	"bidding/internal/selector"
)

// PlaceBid admits a new bid. Malformed input is refused before the task
// service is asked. The remaining checks run in a fixed order and the first
// failure wins: task availability, ownership, open window, amount bounds and
// finally one bid per bidder.
func (s *Service) PlaceBid(ctx context.Context, req models.NewBid) (models.Bid, error) {
	if err := validateNewBid(req); err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w", err)
	}

	logger := s.logger.With(slog.String("taskId", req.TaskId), slog.String("bidderId", req.BidderId))

	if _, err := s.biddingStatus(ctx, req.TaskId); err != nil {
		logger.Warn("task availability check failed", slog.Any("error", err))
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w",
			models.ErrTaskUnavailable.Withf("Task %s does not exist or is not available", req.TaskId))
	}

	// An ownership check that cannot be answered blocks the bid.
	owner, err := s.isOwner(ctx, req.TaskId, req.BidderId)
	if err != nil {
		logger.Warn("ownership check failed, treating bidder as owner", slog.Any("error", err))
		owner = true
	}
	if owner {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w", models.ErrOwnerBid)
	}

	status, err := s.biddingStatus(ctx, req.TaskId)
	if err != nil {
		logger.Warn("bidding status check failed", slog.Any("error", err))
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w",
			models.ErrTaskUnavailable.Withf("Task %s does not exist or is not available", req.TaskId))
	}
	if status.DeadlinePassed(s.now()) {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w",
			models.ErrDeadlinePassed.Withf("Bidding period has expired. Bidding deadline was: %s", status.BiddingDeadline.Format(deadlineLayout)))
	}
	if !status.OpenForBidding {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w",
			models.ErrBiddingClosed.Withf("Task is not open for bidding (status: %s)", status.Status))
	}

	if req.Amount.LessThan(s.cfg.MinBidAmount) {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w",
			models.ErrAmountOutOfRange.Withf("Bid amount must be at least $%s", s.cfg.MinBidAmount.StringFixed(2)))
	}
	if req.Amount.GreaterThan(s.cfg.MaxBidAmount) {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w",
			models.ErrAmountOutOfRange.Withf("Bid amount cannot exceed $%s", s.cfg.MaxBidAmount.StringFixed(2)))
	}

	var placed models.Bid
	err = s.ledger.InTask(ctx, req.TaskId, func(ctx context.Context, tx LedgerTx) error {
		bids, err := tx.Bids(ctx)
		if err != nil {
			return err
		}

		if lo.ContainsBy(bids, func(b models.Bid) bool { return b.BidderId == req.BidderId }) {
			return models.ErrDuplicateBid
		}
		if lo.ContainsBy(bids, models.Bid.IsFinalWinner) {
			return models.ErrTaskResolved
		}

		now := s.timestamp()
		placed, err = tx.Insert(ctx, models.Bid{
			TaskId:      req.TaskId,
			BidderId:    req.BidderId,
			BidderEmail: req.BidderEmail,
			Amount:      req.Amount,
			Proposal:    req.Proposal,
			Status:      models.BidPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}

		bids, err = markLeader(ctx, tx, append(bids, placed), now)
		if err != nil {
			return err
		}
		placed, _ = lo.Find(bids, func(b models.Bid) bool { return b.Id == placed.Id })
		return nil
	})
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.PlaceBid: %w", err)
	}

	logger.Info("bid placed",
		slog.String("bidId", placed.Id),
		slog.String("amount", placed.Amount.String()),
		slog.Bool("leading", placed.IsWinning))
	return placed, nil
}

func validateNewBid(req models.NewBid) error {
	switch {
	case strings.TrimSpace(req.TaskId) == "":
		return models.ErrMissingField.Withf("Task ID is required")
	case strings.TrimSpace(req.BidderId) == "":
		return models.ErrMissingField.Withf("Bidder ID is required")
	case strings.TrimSpace(req.BidderEmail) == "":
		return models.ErrMissingField.Withf("Bidder email is required")
	case !req.Amount.IsPositive():
		return models.ErrAmountOutOfRange.Withf("Bid amount must be positive")
	case req.Amount.Exponent() < -2 && !req.Amount.Equal(req.Amount.Truncate(2)):
		return models.ErrInvalidInput.Withf("Bid amount supports at most 2 decimal places")
	}
	return nil
}

// markLeader sets IsWinning on the provisional leader among the pending bids
// and clears it on every other pending bid. Only changed bids are written.
// Nothing is marked once the task has a resolved winner.
func markLeader(ctx context.Context, tx LedgerTx, bids []models.Bid, now time.Time) ([]models.Bid, error) {
	leader := selector.Leader(bids)
	if lo.ContainsBy(bids, models.Bid.IsFinalWinner) {
		leader = ""
	}

	for i := range bids {
		bid := &bids[i]
		if bid.Status != models.BidPending {
			continue
		}
		want := bid.Id == leader
		if bid.IsWinning == want {
			continue
		}
		bid.IsWinning = want
		bid.UpdatedAt = now
		if err := tx.Update(ctx, *bid); err != nil {
			return nil, err
		}
	}
	return bids, nil
}
