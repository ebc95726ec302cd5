package service

import (
	"context"
	"log/slog"
	"time"

	"bidding/internal/config"
	"bidding/internal/models"
)

// Ledger is the durable store of bids.
type Ledger interface {
	// InTask runs fn in one transaction that holds the lock of taskId. Writes
	// made through tx are committed only if fn returns nil.
	InTask(ctx context.Context, taskId string, fn func(ctx context.Context, tx LedgerTx) error) error

	BidByID(ctx context.Context, bidId string) (models.Bid, bool, error)
	Bids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error)
	PendingTaskIDs(ctx context.Context) ([]string, error)
	// UnpropagatedWinners returns at most limit winners, oldest first. A
	// limit of 0 returns all of them.
	UnpropagatedWinners(ctx context.Context, limit int) ([]models.Bid, error)
	MarkPropagated(ctx context.Context, bidId string, at time.Time) error
	StatusCounts(ctx context.Context) (models.BidStatistics, error)
}

// LedgerTx gives access to the bids of one locked task.
type LedgerTx interface {
	// Bids returns every bid of the task regardless of status.
	Bids(ctx context.Context) ([]models.Bid, error)
	Insert(ctx context.Context, bid models.Bid) (models.Bid, error)
	Update(ctx context.Context, bid models.Bid) error
}

// TaskOracle is the task service. It owns task existence, deadlines and ownership.
type TaskOracle interface {
	BiddingStatus(ctx context.Context, taskId string) (models.BiddingStatus, error)
	IsOwner(ctx context.Context, taskId, userId string) (bool, error)
	Assign(ctx context.Context, assignment models.Assignment) error
}

// Publisher receives resolution outcomes.
type Publisher interface {
	Publish(event models.ResolutionEvent) error
}

const (
	ReasonAutoRejected     = "Automatic rejection: Another bid was selected as winner"
	ReasonOtherAccepted    = "Another bid was accepted for this task"
	ReasonRejectedByOwner  = "Rejected by task owner"
	ReasonAutoAssignment   = "Automatic assignment: Lowest bidder selected after bidding deadline expired"
	ReasonManualAssignment = "Manual assignment: Bid accepted by task owner"

	deadlineLayout = "2006-01-02 15:04:05"
)

type Service struct {
	ledger    Ledger
	oracle    TaskOracle
	publisher Publisher
	cfg       *config.BiddingConfig
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(ledger Ledger, oracle TaskOracle, cfg *config.BiddingConfig, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		oracle: oracle,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(slog.String("caller", "BidService"))
	return s
}

// timestamp truncates to the precision postgres keeps, so values read back
// from the ledger compare equal to the ones written.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) oracleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OracleTimeout)
}

//// Oracle calls

func (s *Service) biddingStatus(ctx context.Context, taskId string) (models.BiddingStatus, error) {
	ctx, cancel := s.oracleCtx(ctx)
	defer cancel()
	return s.oracle.BiddingStatus(ctx, taskId)
}

func (s *Service) isOwner(ctx context.Context, taskId, userId string) (bool, error) {
	ctx, cancel := s.oracleCtx(ctx)
	defer cancel()
	return s.oracle.IsOwner(ctx, taskId, userId)
}

func (s *Service) assign(ctx context.Context, assignment models.Assignment) error {
	ctx, cancel := s.oracleCtx(ctx)
	defer cancel()
	return s.oracle.Assign(ctx, assignment)
}
