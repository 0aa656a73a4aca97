package boxoffice

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
)

// ObjectStore is a key/value blob store with per-object metadata and
// generation-based conditional writes.
type ObjectStore interface {
	// Head reads only the object's attributes. A missing key is reported as
	// Lookup{Found: false} with a nil error; errors are always transient.
	Head(ctx context.Context, key string) (Lookup, error)
	// Get reads the object body and attributes, or returns ErrNotFound.
	Get(ctx context.Context, key string) (Object, error)
	// Put writes the object, honoring opts.Precondition. A lost precondition
	// returns ErrPreconditionFailed.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectAttrs, error)
}

// WorkQueue is a message queue with batch send and batch delete.
type WorkQueue interface {
	SendBatch(ctx context.Context, queue string, msgs []Message) (BatchResult, error)
	Receive(ctx context.Context, queue string, max int) ([]Delivery, error)
	DeleteBatch(ctx context.Context, queue string, receipts []Receipt) (BatchResult, error)
}

// Publisher pushes event envelopes onto the notification bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher turns upstream pages into ranking rows and movie details.
type Fetcher interface {
	FetchRanking(ctx context.Context, date civil.Date) ([]RankingRow, error)
	FetchMovie(ctx context.Context, movieID string) (*Movie, error)
}

// SnapshotIndex receives every persisted ranking snapshot for querying.
type SnapshotIndex interface {
	IndexSnapshot(ctx context.Context, date civil.Date, rows []RankingRow) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator derives stable message ids from a name.
type IDGenerator interface {
	NameID(name string) string
}

// Lookup is the result of a metadata-only read.
type Lookup struct {
	Found bool
	Attrs ObjectAttrs
}

// ObjectAttrs carries the stored object's metadata.
type ObjectAttrs struct {
	Key         string
	Generation  int64
	Metadata    map[string]string
	ContentType string
	Size        int64
}

// Object is a stored body plus its attributes.
type Object struct {
	Data  []byte
	Attrs ObjectAttrs
}

// Precondition restricts a Put. The zero value writes unconditionally.
type Precondition struct {
	DoesNotExist    bool
	GenerationMatch int64
}

// PutOptions configures a Put.
type PutOptions struct {
	ContentType  string
	Metadata     map[string]string
	Precondition Precondition
}

// Message is one entry of a queue batch. Attributes carry transport
// metadata such as trace context.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
}

// Receipt identifies a received message for deletion.
type Receipt struct {
	ID     string
	Handle string
}

// Delivery is a received message with its receipt.
type Delivery struct {
	Message Message
	Receipt Receipt
}

// BatchFailure describes one failed entry of a batch call.
type BatchFailure struct {
	ID      string
	Code    string
	Message string
}

// BatchResult reports per-entry outcomes of a batch call.
type BatchResult struct {
	Succeeded []string
	Failed    []BatchFailure
}

// Merge appends other's outcomes.
func (r *BatchResult) Merge(other BatchResult) {
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
}
