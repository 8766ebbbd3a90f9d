package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/domain"
	"presale-settler/internal/settlement"
)

type slowProcessor struct {
	mu      sync.Mutex
	seen    []string
	delay   time.Duration
	release chan struct{}
}

func (p *slowProcessor) Process(ctx context.Context, n domain.Notification) settlement.Result {
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return settlement.Result{Signature: n.Signature, Outcome: settlement.OutcomeFailed}
		}
	}
	time.Sleep(p.delay)
	p.mu.Lock()
	p.seen = append(p.seen, n.Signature)
	p.mu.Unlock()
	return settlement.Result{Signature: n.Signature, Outcome: settlement.OutcomeSettled}
}

func (p *slowProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func batch(sigs ...string) []domain.Notification {
	out := make([]domain.Notification, len(sigs))
	for i, s := range sigs {
		out[i] = domain.Notification{Signature: s}
	}
	return out
}

func TestDispatcher_DrainsOnClose(t *testing.T) {
	proc := &slowProcessor{delay: 5 * time.Millisecond}
	d := NewDispatcher(proc, DispatcherConfig{Workers: 2, QueueSize: 10})

	require.NoError(t, d.Submit(batch("a", "b")))
	require.NoError(t, d.Submit(batch("c")))
	require.NoError(t, d.Submit(batch("d", "e", "f")))

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 6, proc.count())

	assert.ErrorIs(t, d.Submit(batch("late")), ErrDispatcherClosed)
}

func TestDispatcher_QueueFull(t *testing.T) {
	proc := &slowProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, DispatcherConfig{Workers: 1, QueueSize: 1})

	require.NoError(t, d.Submit(batch("a")))
	// Wait for the worker to take "a" so the queue slot is free again.
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Submit(batch("b")))
	assert.ErrorIs(t, d.Submit(batch("c")), ErrQueueFull)

	close(proc.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, proc.count())
}

func TestDispatcher_CloseDeadlineCancelsWork(t *testing.T) {
	proc := &slowProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, DispatcherConfig{Workers: 1, QueueSize: 4})
	require.NoError(t, d.Submit(batch("a", "b")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, proc.count())
}
