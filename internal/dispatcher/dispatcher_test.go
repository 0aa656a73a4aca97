// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	pubmemory "github.com/JakeFAU/boxoffice-crawler/internal/publisher/memory"
	"github.com/JakeFAU/boxoffice-crawler/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin receiving and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w, err := worker.New(queue, worker.HandlerFunc(func(context.Context, boxoffice.Message) error { return nil }),
		worker.Config{Queue: "jobs"}, zap.NewNop())
	require.NoError(t, err)
	extra := &countingRunner{started: make(chan struct{}, 1)}
	dispatch := New(nil, []*worker.Worker{w}, extra)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for _, started := range []chan struct{}{queue.started, extra.started} {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("runner did not start")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherPublish verifies envelopes are validated and errors wrapped.
func TestDispatcherPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := pubmemory.New()
	dispatch := New(pub, nil)

	_, err := dispatch.Publish(ctx, "control", boxoffice.Envelope{EventType: boxoffice.EventReset})
	require.NoError(t, err)
	require.Len(t, pub.Envelopes("control"), 1)

	_, err = dispatch.Publish(ctx, "control", boxoffice.Envelope{EventType: boxoffice.EventValidateRanking})
	require.ErrorIs(t, err, boxoffice.ErrMalformedRecord)

	pub.FailWith(errors.New("boom"))
	_, err = dispatch.Publish(ctx, "control", boxoffice.Envelope{EventType: boxoffice.EventDebug})
	require.ErrorContains(t, err, "publish DEBUG")

	_, err = New(nil, nil).Publish(ctx, "control", boxoffice.Envelope{EventType: boxoffice.EventDebug})
	require.Error(t, err)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) SendBatch(context.Context, string, []boxoffice.Message) (boxoffice.BatchResult, error) {
	return boxoffice.BatchResult{}, nil
}

func (q *blockingQueue) Receive(ctx context.Context, _ string, _ int) ([]boxoffice.Delivery, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *blockingQueue) DeleteBatch(context.Context, string, []boxoffice.Receipt) (boxoffice.BatchResult, error) {
	return boxoffice.BatchResult{}, nil
}

type countingRunner struct {
	started chan struct{}
}

func (r *countingRunner) Run(ctx context.Context) {
	r.started <- struct{}{}
	<-ctx.Done()
}
