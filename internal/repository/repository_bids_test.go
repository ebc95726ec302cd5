package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"bidding/internal/models"
	"bidding/internal/service"
)

func TestBids(t *testing.T) {
	ctx := context.Background()
	repo := OpenTestRepo(t)
	defer repo.Close()

	start := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	bids := insertBids(t, repo, "task-1",
		testBid("bidder-1", "70.00", start),
		testBid("bidder-2", "30.50", start.Add(time.Minute)),
		testBid("bidder-3", "30.50", start.Add(2*time.Minute)),
	)
	insertBids(t, repo, "task-2", testBid("bidder-1", "15", start.Add(3*time.Minute)))

	// Selection order inside the task transaction
	err := repo.InTask(ctx, "task-1", func(ctx context.Context, tx service.LedgerTx) error {
		locked, err := tx.Bids(ctx)
		if err != nil {
			return err
		}
		want := []string{bids[1].Id, bids[2].Id, bids[0].Id}
		for i, bid := range locked {
			if bid.Id != want[i] {
				t.Errorf("Expected bid %d to be '%s', got '%s'", i, want[i], bid.Id)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Read back
	bid, ok, err := repo.BidByID(ctx, bids[1].Id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("Expected bid '%s' to exist", bids[1].Id)
	}
	if !bid.Amount.Equal(bids[1].Amount) || bid.BidderEmail != bids[1].BidderEmail || !bid.CreatedAt.Equal(bids[1].CreatedAt) {
		t.Errorf("Read back bid differs: %+v vs %+v", bid, bids[1])
	}

	_, ok, err = repo.BidByID(ctx, "not-a-uuid")
	if err != nil || ok {
		t.Errorf("Expected missing bid for malformed id, got ok=%v err=%v", ok, err)
	}

	// Filters
	byBidder, err := repo.Bids(ctx, models.BidFilter{BidderId: "bidder-1", NewestFirst: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(byBidder) != 2 || byBidder[0].TaskId != "task-2" {
		t.Errorf("Expected 2 bids of bidder-1 newest first, got %+v", byBidder)
	}

	byEmail, err := repo.Bids(ctx, models.BidFilter{BidderEmail: bids[0].BidderEmail})
	if err != nil {
		t.Fatal(err)
	}
	if len(byEmail) != 1 {
		t.Errorf("Expected 1 bid by email, got %d", len(byEmail))
	}

	// Update
	now := start.Add(time.Hour)
	bids[1].Accept(now)
	err = repo.InTask(ctx, "task-1", func(ctx context.Context, tx service.LedgerTx) error {
		return tx.Update(ctx, bids[1])
	})
	if err != nil {
		t.Fatal(err)
	}

	accepted, err := repo.Bids(ctx, models.BidFilter{Statuses: []models.BidStatus{models.BidAccepted, models.BidRejected}})
	if err != nil {
		t.Fatal(err)
	}
	if len(accepted) != 1 || accepted[0].Id != bids[1].Id || accepted[0].AcceptedAt == nil || !accepted[0].AcceptedAt.Equal(now) {
		t.Errorf("Expected accepted bid '%s', got %+v", bids[1].Id, accepted)
	}

	// Pending tasks
	taskIds, err := repo.PendingTaskIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(taskIds) != 2 || taskIds[0] != "task-1" || taskIds[1] != "task-2" {
		t.Errorf("Expected pending tasks [task-1 task-2], got %v", taskIds)
	}

	// Propagation tracking
	unpropagated, err := repo.UnpropagatedWinners(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(unpropagated) != 1 || unpropagated[0].Id != bids[1].Id {
		t.Fatalf("Expected unpropagated winner '%s', got %+v", bids[1].Id, unpropagated)
	}

	err = repo.MarkPropagated(ctx, bids[1].Id, now)
	if err != nil {
		t.Fatal(err)
	}
	unpropagated, err = repo.UnpropagatedWinners(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(unpropagated) != 0 {
		t.Errorf("Expected no unpropagated winners, got %d", len(unpropagated))
	}
}

func TestDuplicateBid(t *testing.T) {
	repo := OpenTestRepo(t)
	defer repo.Close()

	insertBids(t, repo, "task-1", testBid("bidder-1", "10", time.Now()))

	err := repo.InTask(context.Background(), "task-1", func(ctx context.Context, tx service.LedgerTx) error {
		_, err := tx.Insert(ctx, testBid("bidder-1", "9", time.Now()))
		return err
	})
	if !errors.Is(err, models.ErrDuplicateBid) {
		t.Errorf("Expected duplicate bid error, got %v", err)
	}
}

func TestUpdateMissingBid(t *testing.T) {
	repo := OpenTestRepo(t)
	defer repo.Close()

	bids := insertBids(t, repo, "task-1", testBid("bidder-1", "10", time.Now()))

	// a bid is only reachable through the transaction of its own task
	err := repo.InTask(context.Background(), "task-2", func(ctx context.Context, tx service.LedgerTx) error {
		return tx.Update(ctx, bids[0])
	})
	if !errors.Is(err, models.ErrBidNotFound) {
		t.Errorf("Expected bid not found, got %v", err)
	}
}
