package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"bidding/internal/config"
	"bidding/internal/models"
	"bidding/internal/selector"
)

//// Ledger

type memLedger struct {
	mu     sync.Mutex
	bids   map[string]models.Bid
	locks  map[string]*sync.Mutex
	writes int
}

func newMemLedger() *memLedger {
	return &memLedger{
		bids:  make(map[string]models.Bid),
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *memLedger) taskLock(taskId string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[taskId]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[taskId] = lock
	}
	return lock
}

func (l *memLedger) InTask(ctx context.Context, taskId string, fn func(ctx context.Context, tx LedgerTx) error) error {
	lock := l.taskLock(taskId)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{ledger: l, taskId: taskId, staged: make(map[string]models.Bid)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, bid := range tx.staged {
		l.bids[id] = bid
	}
	l.writes += len(tx.staged)
	return nil
}

func (l *memLedger) BidByID(ctx context.Context, bidId string) (models.Bid, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bid, ok := l.bids[bidId]
	return bid, ok, nil
}

func (l *memLedger) Bids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := lo.Filter(lo.Values(l.bids), func(b models.Bid, _ int) bool {
		return (filter.TaskId == "" || b.TaskId == filter.TaskId) &&
			(filter.BidderId == "" || b.BidderId == filter.BidderId) &&
			(filter.BidderEmail == "" || b.BidderEmail == filter.BidderEmail) &&
			(len(filter.Statuses) == 0 || slices.Contains(filter.Statuses, b.Status))
	})
	if filter.NewestFirst {
		slices.SortFunc(result, func(a, b models.Bid) int { return b.CreatedAt.Compare(a.CreatedAt) })
	} else {
		slices.SortFunc(result, selector.Compare)
	}
	return result, nil
}

func (l *memLedger) PendingTaskIDs(ctx context.Context) ([]string, error) {
	bids, _ := l.Bids(ctx, models.BidFilter{Statuses: []models.BidStatus{models.BidPending}})
	ids := lo.Uniq(lo.Map(bids, func(b models.Bid, _ int) string { return b.TaskId }))
	slices.Sort(ids)
	return ids, nil
}

func (l *memLedger) UnpropagatedWinners(ctx context.Context, limit int) ([]models.Bid, error) {
	bids, _ := l.Bids(ctx, models.BidFilter{Statuses: []models.BidStatus{models.BidAccepted}})
	bids = lo.Filter(bids, func(b models.Bid, _ int) bool { return b.IsWinning && b.PropagatedAt == nil })
	slices.SortStableFunc(bids, func(a, b models.Bid) int { return a.AcceptedAt.Compare(*b.AcceptedAt) })
	if limit > 0 && len(bids) > limit {
		bids = bids[:limit]
	}
	return bids, nil
}

func (l *memLedger) MarkPropagated(ctx context.Context, bidId string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bid, ok := l.bids[bidId]
	if !ok {
		return errors.New("no such bid")
	}
	bid.PropagatedAt = &at
	l.bids[bidId] = bid
	return nil
}

func (l *memLedger) StatusCounts(ctx context.Context) (models.BidStatistics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats models.BidStatistics
	for _, bid := range l.bids {
		stats.Total++
		switch bid.Status {
		case models.BidPending:
			stats.Pending++
		case models.BidAccepted:
			stats.Accepted++
		case models.BidRejected:
			stats.Rejected++
		case models.BidWithdrawn:
			stats.Withdrawn++
		}
		if bid.IsWinning {
			stats.Winning++
		}
	}
	return stats, nil
}

func (l *memLedger) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

type memTx struct {
	ledger *memLedger
	taskId string
	staged map[string]models.Bid
}

func (tx *memTx) Bids(ctx context.Context) ([]models.Bid, error) {
	committed, _ := tx.ledger.Bids(ctx, models.BidFilter{TaskId: tx.taskId})
	bids := lo.Assign(lo.KeyBy(committed, func(b models.Bid) string { return b.Id }), tx.staged)
	result := lo.Values(bids)
	slices.SortFunc(result, selector.Compare)
	return result, nil
}

func (tx *memTx) Insert(ctx context.Context, bid models.Bid) (models.Bid, error) {
	bid.Id = uuid.NewString()
	tx.staged[bid.Id] = bid
	return bid, nil
}

func (tx *memTx) Update(ctx context.Context, bid models.Bid) error {
	tx.staged[bid.Id] = bid
	return nil
}

//// Oracle

type fakeOracle struct {
	mu          sync.Mutex
	tasks       map[string]models.BiddingStatus
	owners      map[string]string
	statusErr   error
	ownerErr    error
	assignErr   error
	assignHang  bool
	statusCalls int
	assignments []models.Assignment
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		tasks:  make(map[string]models.BiddingStatus),
		owners: make(map[string]string),
	}
}

func (o *fakeOracle) addTask(taskId, ownerId string, deadline time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks[taskId] = models.BiddingStatus{TaskId: taskId, OpenForBidding: true, Status: "OPEN", BiddingDeadline: deadline}
	o.owners[taskId] = ownerId
}

func (o *fakeOracle) setAssignErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assignErr = err
}

func (o *fakeOracle) BiddingStatus(ctx context.Context, taskId string) (models.BiddingStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statusCalls++
	if o.statusErr != nil {
		return models.BiddingStatus{}, o.statusErr
	}
	status, ok := o.tasks[taskId]
	if !ok {
		return status, models.ErrTaskNotFound
	}
	return status, nil
}

func (o *fakeOracle) IsOwner(ctx context.Context, taskId, userId string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ownerErr != nil {
		return false, o.ownerErr
	}
	return o.owners[taskId] == userId, nil
}

func (o *fakeOracle) Assign(ctx context.Context, assignment models.Assignment) error {
	o.mu.Lock()
	hang, err := o.assignHang, o.assignErr
	o.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.assignments = append(o.assignments, assignment)
	return nil
}

func (o *fakeOracle) assigned() []models.Assignment {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.assignments)
}

//// Publisher

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ResolutionEvent
}

func (p *fakePublisher) Publish(event models.ResolutionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

//// Clock

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

//// Setup

var testStart = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

type testEnv struct {
	service   *Service
	ledger    *memLedger
	oracle    *fakeOracle
	publisher *fakePublisher
	clock     *testClock
}

func testConfig() *config.BiddingConfig {
	return &config.BiddingConfig{
		MinBidAmount:          decimal.RequireFromString("0.01"),
		MaxBidAmount:          decimal.RequireFromString("10000.00"),
		AutoResolutionEnabled: true,
		ScanInterval:          5 * time.Minute,
		ScanWorkers:           2,
		RetryBatch:            20,
		OracleTimeout:         100 * time.Millisecond,
	}
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		ledger:    newMemLedger(),
		oracle:    newFakeOracle(),
		publisher: &fakePublisher{},
		clock:     &testClock{now: testStart},
	}
	env.service = NewService(env.ledger, env.oracle, testConfig(),
		WithPublisher(env.publisher),
		WithClock(env.clock.Now))
	return env
}

func (env *testEnv) place(t *testing.T, taskId, bidderId string, amount string) models.Bid {
	t.Helper()

	bid, err := env.service.PlaceBid(context.Background(), models.NewBid{
		TaskId:      taskId,
		BidderId:    bidderId,
		BidderEmail: bidderId + "@example.com",
		Amount:      decimal.RequireFromString(amount),
		Proposal:    "proposal of " + bidderId,
	})
	if err != nil {
		t.Fatalf("place bid of %s on %s: %s", bidderId, taskId, err)
	}
	return bid
}

func (env *testEnv) taskBids(t *testing.T, taskId string) map[string]models.Bid {
	t.Helper()

	bids, err := env.ledger.Bids(context.Background(), models.BidFilter{TaskId: taskId})
	if err != nil {
		t.Fatal(err)
	}
	return lo.KeyBy(bids, func(b models.Bid) string { return b.Id })
}

func countWinners(bids map[string]models.Bid) (final, flagged int) {
	for _, bid := range bids {
		if bid.IsFinalWinner() {
			final++
		}
		if bid.IsWinning {
			flagged++
		}
	}
	return final, flagged
}
