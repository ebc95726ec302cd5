package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"bidding/internal/models"
	"bidding/internal/selector"
)

func (s *Service) bidByID(ctx context.Context, bidId string) (models.Bid, error) {
	if bidId == "" {
		return models.Bid{}, models.ErrMissingField.Withf("Bid ID is required")
	}

	bid, ok, err := s.ledger.BidByID(ctx, bidId)
	if err != nil {
		return models.Bid{}, err
	}
	if !ok {
		return models.Bid{}, models.ErrBidNotFound.Withf("Bid %s does not exist", bidId)
	}
	return bid, nil
}

func (s *Service) finalWinner(ctx context.Context, taskId string) (models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{TaskId: taskId, Statuses: []models.BidStatus{models.BidAccepted}})
	if err != nil {
		return models.Bid{}, err
	}

	winner, ok := lo.Find(bids, models.Bid.IsFinalWinner)
	if !ok {
		return models.Bid{}, models.ErrNoWinningBid.Withf("Task %s has no accepted winning bid", taskId)
	}
	return winner, nil
}

func (s *Service) BidByID(ctx context.Context, bidId string) (models.Bid, error) {
	bid, err := s.bidByID(ctx, bidId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.BidByID: %w", err)
	}
	return bid, nil
}

// BidsByTask returns every bid of a task, cheapest first.
func (s *Service) BidsByTask(ctx context.Context, taskId string) ([]models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{TaskId: taskId})
	if err != nil {
		return nil, fmt.Errorf("service.Service.BidsByTask: %w", err)
	}
	return bids, nil
}

// BidsByBidder returns every bid of a bidder, newest first.
func (s *Service) BidsByBidder(ctx context.Context, bidderId string) ([]models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{BidderId: bidderId, NewestFirst: true})
	if err != nil {
		return nil, fmt.Errorf("service.Service.BidsByBidder: %w", err)
	}
	return bids, nil
}

func (s *Service) ActiveBidsByBidder(ctx context.Context, bidderId string) ([]models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{
		BidderId:    bidderId,
		Statuses:    []models.BidStatus{models.BidPending},
		NewestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("service.Service.ActiveBidsByBidder: %w", err)
	}
	return bids, nil
}

func (s *Service) CompletedBidsByBidder(ctx context.Context, bidderId string) ([]models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{
		BidderId:    bidderId,
		Statuses:    []models.BidStatus{models.BidAccepted, models.BidRejected, models.BidWithdrawn},
		NewestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("service.Service.CompletedBidsByBidder: %w", err)
	}
	return bids, nil
}

func (s *Service) BidsByEmail(ctx context.Context, email string) ([]models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{BidderEmail: email, NewestFirst: true})
	if err != nil {
		return nil, fmt.Errorf("service.Service.BidsByEmail: %w", err)
	}
	return bids, nil
}

func (s *Service) BidsByStatus(ctx context.Context, status models.BidStatus) ([]models.Bid, error) {
	if !models.ValidBidStatus(status) {
		return nil, fmt.Errorf("service.Service.BidsByStatus: %w", models.ErrInvalidInput.Withf("Unknown bid status: %s", status))
	}

	bids, err := s.ledger.Bids(ctx, models.BidFilter{Statuses: []models.BidStatus{status}, NewestFirst: true})
	if err != nil {
		return nil, fmt.Errorf("service.Service.BidsByStatus: %w", err)
	}
	return bids, nil
}

// WinningBid returns the resolved winner of a task, or its provisional
// leader while bidding is still open.
func (s *Service) WinningBid(ctx context.Context, taskId string) (models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{TaskId: taskId})
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.WinningBid: %w", err)
	}

	if winner, ok := lo.Find(bids, models.Bid.IsFinalWinner); ok {
		return winner, nil
	}
	if leader, _, ok := selector.Select(bids); ok {
		return leader, nil
	}
	return models.Bid{}, fmt.Errorf("service.Service.WinningBid: %w", models.ErrNoWinningBid.Withf("Task %s has no winning bid", taskId))
}

// LowestBid and HighestBid look at every bid of the task except withdrawn ones.
func (s *Service) LowestBid(ctx context.Context, taskId string) (models.Bid, error) {
	bids, err := s.activeTaskBids(ctx, taskId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.LowestBid: %w", err)
	}
	return lo.MinBy(bids, func(a, b models.Bid) bool { return selector.Compare(a, b) < 0 }), nil
}

func (s *Service) HighestBid(ctx context.Context, taskId string) (models.Bid, error) {
	bids, err := s.activeTaskBids(ctx, taskId)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service.Service.HighestBid: %w", err)
	}
	return lo.MaxBy(bids, func(a, b models.Bid) bool { return a.Amount.GreaterThan(b.Amount) }), nil
}

func (s *Service) activeTaskBids(ctx context.Context, taskId string) ([]models.Bid, error) {
	bids, err := s.ledger.Bids(ctx, models.BidFilter{
		TaskId:   taskId,
		Statuses: []models.BidStatus{models.BidPending, models.BidAccepted, models.BidRejected},
	})
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, models.ErrBidNotFound.Withf("Task %s has no bids", taskId)
	}
	return bids, nil
}

func (s *Service) Statistics(ctx context.Context) (models.BidStatistics, error) {
	stats, err := s.ledger.StatusCounts(ctx)
	if err != nil {
		return stats, fmt.Errorf("service.Service.Statistics: %w", err)
	}
	return stats, nil
}

// ReadyTasks returns the tasks that still have pending bids although their
// bidding deadline has passed. Tasks the task service cannot answer for are
// left out.
func (s *Service) ReadyTasks(ctx context.Context) ([]string, error) {
	taskIds, err := s.ledger.PendingTaskIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ReadyTasks: %w", err)
	}

	now := s.now()
	return lo.Filter(taskIds, func(taskId string, _ int) bool {
		status, err := s.biddingStatus(ctx, taskId)
		if err != nil {
			s.logger.Warn("bidding status check failed", slog.String("taskId", taskId), slog.Any("error", err))
			return false
		}
		return status.DeadlinePassed(now)
	}), nil
}

// BidsNeedingAttention returns the pending bids of every ready task.
func (s *Service) BidsNeedingAttention(ctx context.Context) ([]models.Bid, error) {
	taskIds, err := s.ReadyTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.Service.BidsNeedingAttention: %w", err)
	}

	var result []models.Bid
	for _, taskId := range taskIds {
		bids, err := s.ledger.Bids(ctx, models.BidFilter{TaskId: taskId, Statuses: []models.BidStatus{models.BidPending}})
		if err != nil {
			return nil, fmt.Errorf("service.Service.BidsNeedingAttention: %w", err)
		}
		result = append(result, bids...)
	}
	return result, nil
}

func (s *Service) AutoResolutionConfig() models.ResolutionConfig {
	return models.ResolutionConfig{
		AutoResolutionEnabled: s.cfg.AutoResolutionEnabled,
		ScanInterval:          s.cfg.ScanInterval.String(),
		MinBidAmount:          s.cfg.MinBidAmount,
		MaxBidAmount:          s.cfg.MaxBidAmount,
		SelectionCriteria:     "lowest amount, earliest bid on ties",
	}
}
