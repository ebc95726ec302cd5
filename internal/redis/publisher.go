package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"bidding/internal/models"
)

var ErrPublisherClosed = errors.New("publisher is closed")

type publisherOptions struct {
	logger       *slog.Logger
	bufferSize   int
	drainTimeout time.Duration
	maxLen       int64
}

type PublisherOption func(*publisherOptions)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		o.logger = logger
	}
}

func WithPublisherBufferSize(size int) PublisherOption {
	return func(o *publisherOptions) {
		o.bufferSize = size
	}
}

// WithPublisherDrainTimeout bounds how long Close keeps flushing queued events.
func WithPublisherDrainTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		o.drainTimeout = d
	}
}

// WithPublisherMaxLen caps the stream length approximately. Zero keeps every entry.
func WithPublisherMaxLen(n int64) PublisherOption {
	return func(o *publisherOptions) {
		o.maxLen = n
	}
}

// EventPublisher appends resolution events to a redis stream. Publish never
// blocks on redis: events are queued and written by a background goroutine.
type EventPublisher struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    publisherOptions
}

func NewEventPublisher(client *redis.Client, stream string, opts ...PublisherOption) (*EventPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := publisherOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		drainTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &EventPublisher{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "EventPublisher"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *EventPublisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting event publisher")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("publisher goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case values, ok := <-p.upstream.Out:
				if !ok {
					return
				}
				p.write(ctx, values)
			}
		}
	}()
}

func (p *EventPublisher) write(ctx context.Context, values map[string]any) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Error("publish event error", slog.Any("error", err))
		return
	}
	p.logger.Debug("event published", slog.String("messageId", id))
}

func (p *EventPublisher) Publish(event models.ResolutionEvent) error {
	values, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("redis.EventPublisher.Publish: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	p.upstream.In <- values
	return nil
}

// Close stops accepting events and flushes the queue for at most the drain
// timeout. Events still queued after that are dropped.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.logger.Info("closing event publisher")
	p.closed = true
	close(p.upstream.In)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(p.options.drainTimeout):
		p.logger.Warn("drain timeout reached, dropping queued events", slog.Int("queued", p.upstream.Len()))
		p.cancelFunc()
		<-drained
	}
	p.cancelFunc()
	p.logger.Info("event publisher closed")
}
