// Package dispatcher runs a set of workers side by side.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/worker"
)

// Runner is anything that blocks until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out to the configured workers and triggers.
type Dispatcher struct {
	publisher boxoffice.Publisher
	runners   []Runner
}

// New creates a Dispatcher. publisher backs Publish and may be nil.
func New(publisher boxoffice.Publisher, workers []*worker.Worker, extra ...Runner) *Dispatcher {
	runners := make([]Runner, 0, len(workers)+len(extra))
	for _, w := range workers {
		runners = append(runners, w)
	}
	runners = append(runners, extra...)
	return &Dispatcher{publisher: publisher, runners: runners}
}

// Run starts every runner and blocks until the context finishes and all
// of them have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Publish validates env and sends it to topic.
func (d *Dispatcher) Publish(ctx context.Context, topic string, env boxoffice.Envelope) (string, error) {
	if d.publisher == nil {
		return "", fmt.Errorf("no publisher configured")
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	id, err := d.publisher.Publish(ctx, topic, env)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", env.EventType, err)
	}
	return id, nil
}
