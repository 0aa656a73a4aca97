// Package gcs provides an ObjectStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// pinnedReadAttempts bounds retries when an object is replaced between the
// attribute read and the pinned body read.
const pinnedReadAttempts = 3

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// ObjectStore reads and writes objects in a configured GCS bucket.
type ObjectStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed object store.
func New(client *storage.Client, cfg Config) (*ObjectStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Head reads object attributes only. ErrObjectNotExist maps to Found=false.
func (s *ObjectStore) Head(ctx context.Context, key string) (boxoffice.Lookup, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return boxoffice.Lookup{}, nil
	}
	if err != nil {
		return boxoffice.Lookup{}, fmt.Errorf("head %s: %w", key, err)
	}
	return boxoffice.Lookup{Found: true, Attrs: toAttrs(attrs)}, nil
}

// Get reads attributes and then the body pinned to the same generation, so
// the returned generation always describes the returned bytes.
func (s *ObjectStore) Get(ctx context.Context, key string) (boxoffice.Object, error) {
	obj := s.client.Bucket(s.bucket).Object(key)
	var lastErr error
	for attempt := 0; attempt < pinnedReadAttempts; attempt++ {
		attrs, err := obj.Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return boxoffice.Object{}, fmt.Errorf("get %s: %w", key, boxoffice.ErrNotFound)
		}
		if err != nil {
			return boxoffice.Object{}, fmt.Errorf("get %s attrs: %w", key, err)
		}
		data, err := s.read(ctx, obj.Generation(attrs.Generation))
		if errors.Is(err, storage.ErrObjectNotExist) {
			lastErr = err
			continue
		}
		if err != nil {
			return boxoffice.Object{}, fmt.Errorf("get %s: %w", key, err)
		}
		return boxoffice.Object{Data: data, Attrs: toAttrs(attrs)}, nil
	}
	return boxoffice.Object{}, fmt.Errorf("get %s: generation kept changing: %w", key, lastErr)
}

func (s *ObjectStore) read(ctx context.Context, obj *storage.ObjectHandle) ([]byte, error) {
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// Put uploads data honoring the precondition. HTTP 412 maps to ErrPreconditionFailed.
func (s *ObjectStore) Put(
	ctx context.Context,
	key string,
	data []byte,
	opts boxoffice.PutOptions,
) (boxoffice.ObjectAttrs, error) {
	if strings.TrimSpace(key) == "" {
		return boxoffice.ObjectAttrs{}, fmt.Errorf("key is required")
	}
	obj := s.client.Bucket(s.bucket).Object(key)
	if cond, ok := conditions(opts.Precondition); ok {
		obj = obj.If(cond)
	}
	writer := obj.NewWriter(ctx)
	if opts.ContentType != "" {
		writer.ContentType = opts.ContentType
	}
	writer.Metadata = opts.Metadata
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return boxoffice.ObjectAttrs{}, fmt.Errorf("write %s: %w (close writer: %v)", key, mapWriteErr(err), closeErr)
		}
		return boxoffice.ObjectAttrs{}, fmt.Errorf("write %s: %w", key, mapWriteErr(err))
	}
	if err := writer.Close(); err != nil {
		return boxoffice.ObjectAttrs{}, fmt.Errorf("close writer %s: %w", key, mapWriteErr(err))
	}
	return toAttrs(writer.Attrs()), nil
}

func conditions(p boxoffice.Precondition) (storage.Conditions, bool) {
	switch {
	case p.DoesNotExist:
		return storage.Conditions{DoesNotExist: true}, true
	case p.GenerationMatch != 0:
		return storage.Conditions{GenerationMatch: p.GenerationMatch}, true
	default:
		return storage.Conditions{}, false
	}
}

func mapWriteErr(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %v", boxoffice.ErrPreconditionFailed, err)
	}
	return err
}

func toAttrs(a *storage.ObjectAttrs) boxoffice.ObjectAttrs {
	if a == nil {
		return boxoffice.ObjectAttrs{}
	}
	return boxoffice.ObjectAttrs{
		Key:         a.Name,
		Generation:  a.Generation,
		Metadata:    a.Metadata,
		ContentType: a.ContentType,
		Size:        a.Size,
	}
}
