// Package memory provides a WorkQueue for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/queue"
)

// DefaultVisibilityTimeout is how long a received message stays hidden
// before it becomes receivable again.
const DefaultVisibilityTimeout = 30 * time.Second

type inflight struct {
	msg      boxoffice.Message
	deadline time.Time
}

type lane struct {
	ready    []boxoffice.Message
	inflight map[string]inflight
}

// Queue is a set of named in-process queues with visibility timeouts.
// Undeleted messages are redelivered once their timeout passes.
type Queue struct {
	mu         sync.Mutex
	lanes      map[string]*lane
	visibility time.Duration
	now        func() time.Time
	seq        int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibilityTimeout overrides DefaultVisibilityTimeout.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithClock overrides the time source used for visibility deadlines.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue constructs an empty queue set.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		lanes:      make(map[string]*lane),
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) lane(name string) *lane {
	l, ok := q.lanes[name]
	if !ok {
		l = &lane{inflight: make(map[string]inflight)}
		q.lanes[name] = l
	}
	return l
}

// SendBatch appends msgs to the named queue.
func (q *Queue) SendBatch(ctx context.Context, name string, msgs []boxoffice.Message) (boxoffice.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return boxoffice.BatchResult{}, fmt.Errorf("send canceled: %w", err)
	}
	if len(msgs) > queue.MaxBatchSize {
		return boxoffice.BatchResult{}, fmt.Errorf("batch of %d exceeds limit %d", len(msgs), queue.MaxBatchSize)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(name)
	res := boxoffice.BatchResult{}
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || seen[m.ID] {
			res.Failed = append(res.Failed, boxoffice.BatchFailure{
				ID:      m.ID,
				Code:    "InvalidEntryID",
				Message: "entry id must be unique and non-empty",
			})
			continue
		}
		seen[m.ID] = true
		l.ready = append(l.ready, cloneMessage(m))
		res.Succeeded = append(res.Succeeded, m.ID)
	}
	return res, nil
}

// Receive returns up to max messages and hides them until they are deleted
// or their visibility timeout expires.
func (q *Queue) Receive(ctx context.Context, name string, max int) ([]boxoffice.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("receive canceled: %w", err)
	}
	if max <= 0 {
		max = queue.MaxBatchSize
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(name)
	now := q.now()
	for handle, f := range l.inflight {
		if !now.Before(f.deadline) {
			delete(l.inflight, handle)
			l.ready = append(l.ready, f.msg)
		}
	}

	n := min(max, len(l.ready))
	out := make([]boxoffice.Delivery, 0, n)
	for _, m := range l.ready[:n] {
		q.seq++
		handle := fmt.Sprintf("%s#%d", m.ID, q.seq)
		l.inflight[handle] = inflight{msg: m, deadline: now.Add(q.visibility)}
		out = append(out, boxoffice.Delivery{
			Message: cloneMessage(m),
			Receipt: boxoffice.Receipt{ID: m.ID, Handle: handle},
		})
	}
	l.ready = l.ready[n:]
	return out, nil
}

// DeleteBatch removes in-flight messages. Unknown or expired handles are
// reported as failed entries.
func (q *Queue) DeleteBatch(ctx context.Context, name string, receipts []boxoffice.Receipt) (boxoffice.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return boxoffice.BatchResult{}, fmt.Errorf("delete canceled: %w", err)
	}
	if len(receipts) > queue.MaxBatchSize {
		return boxoffice.BatchResult{}, fmt.Errorf("batch of %d exceeds limit %d", len(receipts), queue.MaxBatchSize)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(name)
	res := boxoffice.BatchResult{}
	for _, r := range receipts {
		if _, ok := l.inflight[r.Handle]; !ok {
			res.Failed = append(res.Failed, boxoffice.BatchFailure{
				ID:      r.ID,
				Code:    "ReceiptHandleIsInvalid",
				Message: "receipt handle unknown or expired",
			})
			continue
		}
		delete(l.inflight, r.Handle)
		res.Succeeded = append(res.Succeeded, r.ID)
	}
	return res, nil
}

// Len reports ready plus in-flight messages on the named queue.
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[name]
	if !ok {
		return 0
	}
	return len(l.ready) + len(l.inflight)
}

func cloneMessage(m boxoffice.Message) boxoffice.Message {
	out := boxoffice.Message{ID: m.ID, Body: append([]byte(nil), m.Body...)}
	if m.Attributes != nil {
		out.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}
