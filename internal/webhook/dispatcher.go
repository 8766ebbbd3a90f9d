package webhook

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"presale-settler/internal/domain"
	"presale-settler/internal/observability"
	"presale-settler/internal/settlement"
)

// Dispatcher errors.
var (
	ErrQueueFull        = errors.New("dispatch queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// Dispatcher defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Processor settles one notification.
type Processor interface {
	Process(ctx context.Context, n domain.Notification) settlement.Result
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Workers   int
	QueueSize int // batches
	Logger    *zap.Logger
}

// Dispatcher runs notification batches on a bounded worker pool, detached
// from the HTTP request that delivered them.
type Dispatcher struct {
	proc   Processor
	queue  chan []domain.Notification
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers.
func NewDispatcher(proc Processor, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		proc:   proc,
		queue:  make(chan []domain.Notification, cfg.QueueSize),
		group:  new(errgroup.Group),
		ctx:    ctx,
		cancel: cancel,
		logger: cfg.Logger.Named("dispatcher"),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.group.Go(d.work)
	}
	return d
}

// Submit enqueues a batch without blocking.
func (d *Dispatcher) Submit(batch []domain.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		observability.RecordDispatchRejected()
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- batch:
		observability.SetDispatchQueueDepth(len(d.queue))
		return nil
	default:
		observability.RecordDispatchRejected()
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() error {
	for batch := range d.queue {
		observability.SetDispatchQueueDepth(len(d.queue))
		for _, n := range batch {
			if d.ctx.Err() != nil {
				d.logger.Warn("dispatcher cancelled, dropping notification", zap.String("signature", n.Signature))
				continue
			}
			res := d.proc.Process(d.ctx, n)
			d.logger.Info("notification processed",
				zap.String("signature", res.Signature),
				zap.String("outcome", string(res.Outcome)),
				zap.String("reason", res.Reason),
				zap.String("purchase_id", res.PurchaseID),
				zap.String("settlement_signature", res.SettlementSignature),
			)
		}
	}
	return nil
}

// Close stops accepting batches and waits for queued work to finish. If ctx
// ends first, in-flight work is cancelled and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		d.cancel()
		return err
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
