// Package memory contains in-memory publisher implementations for tests and
// single-process runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// Publisher stores published payloads for inspection and optionally forwards
// them into a WorkQueue under the topic name.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	forward  boxoffice.WorkQueue
	failWith error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithForward delivers every published payload to q, using the topic as the
// queue name.
func WithForward(q boxoffice.WorkQueue) Option {
	return func(p *Publisher) { p.forward = q }
}

// New returns a memory Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := boxoffice.EncodePayload(payload)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.failWith != nil {
		err := p.failWith
		p.mu.Unlock()
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	forward := p.forward
	p.mu.Unlock()

	if forward != nil {
		res, err := forward.SendBatch(ctx, topic, []boxoffice.Message{{ID: id, Body: data}})
		if err != nil {
			return "", fmt.Errorf("forward to %s: %w", topic, err)
		}
		if len(res.Failed) > 0 {
			return "", fmt.Errorf("forward to %s: %s", topic, res.Failed[0].Message)
		}
	}
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Envelopes returns the recorded envelopes published to topic.
func (p *Publisher) Envelopes(topic string) []boxoffice.Envelope {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []boxoffice.Envelope
	for _, m := range p.messages {
		if m.Topic != topic {
			continue
		}
		if env, ok := m.Payload.(boxoffice.Envelope); ok {
			out = append(out, env)
		}
	}
	return out
}
