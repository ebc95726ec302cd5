package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"bidding/internal/models"
)

// RejectBid rejects a single pending bid. An empty reason falls back to a
// default text. The provisional leader of the task is recomputed.
func (s *Service) RejectBid(ctx context.Context, bidId, reason string) (models.Bid, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonRejectedByOwner
	}

	bid, err := s.bidByID(ctx, bidId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.RejectBid: %w", err)
	}

	bid, err = s.changePending(ctx, bid, func(bid *models.Bid) error {
		return bid.Reject(reason, s.timestamp())
	})
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.RejectBid: %w", err)
	}

	s.logger.Info("bid rejected", slog.String("bidId", bid.Id), slog.String("taskId", bid.TaskId), slog.String("reason", reason))
	return bid, nil
}

// WithdrawBid lets a bidder take back their own pending bid.
func (s *Service) WithdrawBid(ctx context.Context, bidId, bidderId string) (models.Bid, error) {
	if strings.TrimSpace(bidderId) == "" {
		return models.Bid{}, fmt.Errorf("service.Service.WithdrawBid: %w", models.ErrMissingField.Withf("Bidder ID is required"))
	}

	bid, err := s.bidByID(ctx, bidId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.WithdrawBid: %w", err)
	}
	if bid.BidderId != bidderId {
		return models.Bid{}, fmt.Errorf("service.Service.WithdrawBid: %w", models.ErrNotBidOwner)
	}

	bid, err = s.changePending(ctx, bid, func(bid *models.Bid) error {
		return bid.Withdraw(s.timestamp())
	})
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.WithdrawBid: %w", err)
	}

	s.logger.Info("bid withdrawn", slog.String("bidId", bid.Id), slog.String("taskId", bid.TaskId))
	return bid, nil
}

// changePending applies change to a loaded bid under the lock of its task, then
// recomputes the provisional leader. The bid must still be pending.
func (s *Service) changePending(ctx context.Context, bid models.Bid, change func(bid *models.Bid) error) (models.Bid, error) {
	var changed models.Bid
	err := s.ledger.InTask(ctx, bid.TaskId, func(ctx context.Context, tx LedgerTx) error {
		bids, err := tx.Bids(ctx)
		if err != nil {
			return err
		}

		_, idx, ok := lo.FindIndexOf(bids, func(b models.Bid) bool { return b.Id == bid.Id })
		if !ok {
			return models.ErrBidNotFound
		}
		target := &bids[idx]
		if target.Status != models.BidPending {
			return models.ErrBidNotPending.Withf("Only pending bids can be changed (status: %s)", target.Status)
		}

		if err = change(target); err != nil {
			return err
		}
		if err = tx.Update(ctx, *target); err != nil {
			return err
		}

		changed = *target
		_, err = markLeader(ctx, tx, bids, target.UpdatedAt)
		return err
	})
	if err != nil {
		return models.Bid{}, err
	}
	return changed, nil
}
