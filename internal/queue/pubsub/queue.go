// Package pubsub implements boxoffice.WorkQueue on Google Cloud Pub/Sub.
// Messages are sent to topics and received from subscriptions with
// synchronous pull; deleting a message acknowledges it.
package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/queue"
)

// EntryIDAttribute carries the batch entry id across the wire.
const EntryIDAttribute = "entry_id"

// Queue sends through topics and receives through subscriptions.
type Queue struct {
	client     *pubsub.Client
	subscriber *vkit.SubscriberClient
	projectID  string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Queue. Both clients must belong to projectID.
func New(client *pubsub.Client, subscriber *vkit.SubscriberClient, projectID string) (*Queue, error) {
	if client == nil || subscriber == nil {
		return nil, fmt.Errorf("pubsub clients are required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	return &Queue{
		client:     client,
		subscriber: subscriber,
		projectID:  projectID,
		topics:     make(map[string]*pubsub.Topic),
	}, nil
}

func (q *Queue) topic(id string) *pubsub.Topic {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[id]
	if !ok {
		t = q.client.Topic(id)
		q.topics[id] = t
	}
	return t
}

func (q *Queue) subscriptionPath(id string) string {
	if strings.HasPrefix(id, "projects/") {
		return id
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", q.projectID, id)
}

// SendBatch publishes every entry and waits on each result so failures are
// reported per entry.
func (q *Queue) SendBatch(ctx context.Context, topicID string, msgs []boxoffice.Message) (boxoffice.BatchResult, error) {
	if len(msgs) > queue.MaxBatchSize {
		return boxoffice.BatchResult{}, fmt.Errorf("batch of %d exceeds limit %d", len(msgs), queue.MaxBatchSize)
	}
	t := q.topic(topicID)
	results := make([]*pubsub.PublishResult, len(msgs))
	for i, m := range msgs {
		attrs := make(map[string]string, len(m.Attributes)+1)
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		attrs[EntryIDAttribute] = m.ID
		results[i] = t.Publish(ctx, &pubsub.Message{Data: m.Body, Attributes: attrs})
	}

	res := boxoffice.BatchResult{}
	for i, r := range results {
		if _, err := r.Get(ctx); err != nil {
			res.Failed = append(res.Failed, boxoffice.BatchFailure{
				ID:      msgs[i].ID,
				Code:    status.Code(err).String(),
				Message: err.Error(),
			})
			continue
		}
		res.Succeeded = append(res.Succeeded, msgs[i].ID)
	}
	return res, nil
}

// Receive pulls up to max messages from the subscription.
func (q *Queue) Receive(ctx context.Context, subscriptionID string, max int) ([]boxoffice.Delivery, error) {
	if max <= 0 {
		max = queue.MaxBatchSize
	}
	resp, err := q.subscriber.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: q.subscriptionPath(subscriptionID),
		MaxMessages:  int32(max), //nolint:gosec // bounded by caller batch size
	})
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", subscriptionID, err)
	}
	out := make([]boxoffice.Delivery, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		msg := rm.GetMessage()
		id := msg.GetAttributes()[EntryIDAttribute]
		if id == "" {
			id = msg.GetMessageId()
		}
		out = append(out, boxoffice.Delivery{
			Message: boxoffice.Message{ID: id, Body: msg.GetData(), Attributes: msg.GetAttributes()},
			Receipt: boxoffice.Receipt{ID: id, Handle: rm.GetAckId()},
		})
	}
	return out, nil
}

// DeleteBatch acknowledges the receipts. Acknowledge is all-or-nothing, so a
// failed request reports every receipt of the batch.
func (q *Queue) DeleteBatch(ctx context.Context, subscriptionID string, receipts []boxoffice.Receipt) (boxoffice.BatchResult, error) {
	if len(receipts) == 0 {
		return boxoffice.BatchResult{}, nil
	}
	ackIDs := make([]string, len(receipts))
	for i, r := range receipts {
		ackIDs[i] = r.Handle
	}
	res := boxoffice.BatchResult{}
	err := q.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: q.subscriptionPath(subscriptionID),
		AckIds:       ackIDs,
	})
	for _, r := range receipts {
		if err != nil {
			res.Failed = append(res.Failed, boxoffice.BatchFailure{
				ID:      r.ID,
				Code:    status.Code(err).String(),
				Message: err.Error(),
			})
			continue
		}
		res.Succeeded = append(res.Succeeded, r.ID)
	}
	return res, nil
}

// Close flushes and stops every topic publisher.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.topics {
		t.Stop()
	}
}
