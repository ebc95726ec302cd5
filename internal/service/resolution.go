package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"bidding/internal/models"
	"bidding/internal/selector"
)

const (
	ReasonManualResolution = "Manual resolution: Lowest bidder selected by operator"
	ReasonRetryAssignment  = "Assignment retry: Winning bid selected earlier"
)

var assignmentReasons = map[models.ResolutionTrigger]string{
	models.TriggerDeadline: ReasonAutoAssignment,
	models.TriggerManual:   ReasonManualResolution,
	models.TriggerAccept:   ReasonManualAssignment,
}

// pickFunc chooses the winner among the bids of a locked task. ok is false
// when there is nothing to settle.
type pickFunc func(bids []models.Bid) (winner models.Bid, ok bool, err error)

// ResolveTask settles a task: the lowest pending bid is accepted and every
// other pending bid is rejected, all in one transaction. A task without
// pending bids is left untouched, so repeated calls are no-ops.
//
// The winner is handed to the task service after commit. That call is best
// effort and its failure is logged, not returned.
func (s *Service) ResolveTask(ctx context.Context, taskId string, trigger models.ResolutionTrigger) (models.Resolution, error) {
	if taskId == "" {
		return models.Resolution{}, fmt.Errorf("service.Service.ResolveTask: %w", models.ErrMissingField.Withf("Task ID is required"))
	}

	res, err := s.settle(ctx, taskId, trigger, ReasonAutoRejected, func(bids []models.Bid) (models.Bid, bool, error) {
		winner, _, ok := selector.Select(bids)
		if ok && lo.ContainsBy(bids, models.Bid.IsFinalWinner) {
			return models.Bid{}, false, models.ErrTaskResolved
		}
		return winner, ok, nil
	})
	if err != nil {
		return res, fmt.Errorf("service.Service.ResolveTask: %w", err)
	}
	return res, nil
}

// AcceptBid makes the given bid the winner of its task and rejects the other
// pending bids.
func (s *Service) AcceptBid(ctx context.Context, bidId string) (models.Bid, error) {
	bid, err := s.bidByID(ctx, bidId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.AcceptBid: %w", err)
	}

	res, err := s.settle(ctx, bid.TaskId, models.TriggerAccept, ReasonOtherAccepted, func(bids []models.Bid) (models.Bid, bool, error) {
		target, ok := lo.Find(bids, func(b models.Bid) bool { return b.Id == bidId })
		if !ok {
			return models.Bid{}, false, models.ErrBidNotFound
		}
		if target.Status != models.BidPending {
			return models.Bid{}, false, models.ErrBidNotPending.Withf("Only pending bids can be accepted (status: %s)", target.Status)
		}
		if lo.ContainsBy(bids, models.Bid.IsFinalWinner) {
			return models.Bid{}, false, models.ErrTaskResolved
		}
		return target, true, nil
	})
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.AcceptBid: %w", err)
	}
	return *res.Winner, nil
}

func (s *Service) settle(ctx context.Context, taskId string, trigger models.ResolutionTrigger, loserReason string, pick pickFunc) (models.Resolution, error) {
	res := models.Resolution{TaskId: taskId, Trigger: trigger}
	logger := s.logger.With(slog.String("taskId", taskId), slog.String("trigger", string(trigger)))

	err := s.ledger.InTask(ctx, taskId, func(ctx context.Context, tx LedgerTx) error {
		bids, err := tx.Bids(ctx)
		if err != nil {
			return err
		}

		winner, ok, err := pick(bids)
		if err != nil || !ok {
			return err
		}

		now := s.timestamp()
		if err = winner.Accept(now); err != nil {
			return err
		}
		if err = tx.Update(ctx, winner); err != nil {
			return err
		}

		losers := lo.Filter(selector.Sort(bids), func(b models.Bid, _ int) bool { return b.Id != winner.Id })
		for i := range losers {
			if err = losers[i].Reject(loserReason, now); err != nil {
				return err
			}
			if err = tx.Update(ctx, losers[i]); err != nil {
				return err
			}
		}

		res.Winner = &winner
		res.Losers = losers
		return nil
	})
	if err != nil {
		return models.Resolution{TaskId: taskId, Trigger: trigger}, err
	}

	if !res.Resolved() {
		logger.Debug("no pending bids to resolve")
		return res, nil
	}

	logger.Info("task resolved",
		slog.String("winnerBidId", res.Winner.Id),
		slog.String("winnerBidderId", res.Winner.BidderId),
		slog.String("amount", res.Winner.Amount.String()),
		slog.Int("rejected", len(res.Losers)))

	propagated := s.propagate(ctx, res.Winner, assignmentReasons[trigger])
	s.publish(res, propagated)
	return res, nil
}

// propagate pushes the winner to the task service and records success on
// the bid. It never fails the caller.
func (s *Service) propagate(ctx context.Context, winner *models.Bid, reason string) bool {
	logger := s.logger.With(slog.String("taskId", winner.TaskId), slog.String("bidId", winner.Id))

	now := s.timestamp()
	err := s.assign(ctx, assignmentFor(*winner, reason, now))
	if err != nil {
		logger.Warn("assignment propagation failed, ledger keeps the resolved winner", slog.Any("error", err))
		return false
	}

	winner.PropagatedAt = &now
	err = s.ledger.MarkPropagated(ctx, winner.Id, now)
	if err != nil {
		logger.Warn("could not record propagation", slog.Any("error", err))
	}
	logger.Info("assignment propagated", slog.String("assignedUserId", winner.BidderId))
	return true
}

func (s *Service) publish(res models.Resolution, propagated bool) {
	if s.publisher == nil {
		return
	}

	event := models.ResolutionEvent{
		TaskId:         res.TaskId,
		Trigger:        string(res.Trigger),
		WinnerBidId:    res.Winner.Id,
		WinnerBidderId: res.Winner.BidderId,
		WinningAmount:  res.Winner.Amount.String(),
		RejectedBidIds: lo.Map(res.Losers, func(b models.Bid, _ int) string { return b.Id }),
		Propagated:     propagated,
		ResolvedAt:     lo.FromPtr(res.Winner.AcceptedAt),
	}
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Warn("could not publish resolution event", slog.String("taskId", res.TaskId), slog.Any("error", err))
	}
}

// RepropagateTask hands the resolved winner of a task to the task service
// again. Unlike resolution it reports a failing task service to the caller.
func (s *Service) RepropagateTask(ctx context.Context, taskId string) (models.Bid, error) {
	winner, err := s.finalWinner(ctx, taskId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.RepropagateTask: %w", err)
	}

	now := s.timestamp()
	err = s.assign(ctx, assignmentFor(winner, ReasonRetryAssignment, now))
	if err != nil {
		return winner, fmt.Errorf("service.Service.RepropagateTask: %w",
			models.ErrOracleUnavailable.Withf("Could not assign task %s: %s", taskId, err))
	}

	winner.PropagatedAt = &now
	err = s.ledger.MarkPropagated(ctx, winner.Id, now)
	if err != nil {
		return winner, fmt.Errorf("service.Service.RepropagateTask: %w", err)
	}
	return winner, nil
}

// RetryPropagations retries the oldest resolved winners the task service has
// not acknowledged yet, at most RetryBatch per call, and returns how many
// went through.
func (s *Service) RetryPropagations(ctx context.Context) (int, error) {
	winners, err := s.ledger.UnpropagatedWinners(ctx, s.cfg.RetryBatch)
	if err != nil {
		return 0, fmt.Errorf("service.Service.RetryPropagations: %w", err)
	}

	done := 0
	for i := range winners {
		if ctx.Err() != nil {
			break
		}
		if s.propagate(ctx, &winners[i], ReasonRetryAssignment) {
			done++
		}
	}
	return done, nil
}

func assignmentFor(winner models.Bid, reason string, at time.Time) models.Assignment {
	return models.Assignment{
		TaskId:             winner.TaskId,
		AssignedUserId:     winner.BidderId,
		AssignedUserEmail:  winner.BidderEmail,
		AssignedAt:         at,
		AssignmentReason:   reason,
		WinningBidAmount:   winner.Amount,
		WinningBidProposal: winner.Proposal,
		Status:             models.AssignmentStatusAssigned,
	}
}
