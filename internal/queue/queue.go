// Package queue holds the batch helpers shared by every WorkQueue backend.
// Backends live in the memory and pubsub subpackages.
package queue

import (
	"context"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// MaxBatchSize is the largest number of entries a single batch call accepts.
const MaxBatchSize = 10

// CodeRequestFailed marks entries of a chunk whose whole batch request failed.
const CodeRequestFailed = "RequestFailed"

// SendAll sends msgs in chunks of MaxBatchSize. A failed chunk is reported
// per entry and the remaining chunks are still sent.
func SendAll(
	ctx context.Context,
	q boxoffice.WorkQueue,
	name string,
	msgs []boxoffice.Message,
) boxoffice.BatchResult {
	var total boxoffice.BatchResult
	for start := 0; start < len(msgs); start += MaxBatchSize {
		chunk := msgs[start:min(start+MaxBatchSize, len(msgs))]
		res, err := q.SendBatch(ctx, name, chunk)
		if err != nil {
			total.Merge(failAll(messageIDs(chunk), err))
			continue
		}
		total.Merge(res)
	}
	return total
}

// DeleteAll deletes receipts in chunks of MaxBatchSize with the same
// partial-failure semantics as SendAll.
func DeleteAll(
	ctx context.Context,
	q boxoffice.WorkQueue,
	name string,
	receipts []boxoffice.Receipt,
) boxoffice.BatchResult {
	var total boxoffice.BatchResult
	for start := 0; start < len(receipts); start += MaxBatchSize {
		chunk := receipts[start:min(start+MaxBatchSize, len(receipts))]
		res, err := q.DeleteBatch(ctx, name, chunk)
		if err != nil {
			ids := make([]string, len(chunk))
			for i, r := range chunk {
				ids[i] = r.ID
			}
			total.Merge(failAll(ids, err))
			continue
		}
		total.Merge(res)
	}
	return total
}

func messageIDs(msgs []boxoffice.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func failAll(ids []string, err error) boxoffice.BatchResult {
	res := boxoffice.BatchResult{Failed: make([]boxoffice.BatchFailure, 0, len(ids))}
	for _, id := range ids {
		res.Failed = append(res.Failed, boxoffice.BatchFailure{
			ID:      id,
			Code:    CodeRequestFailed,
			Message: err.Error(),
		})
	}
	return res
}
