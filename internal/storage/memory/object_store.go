// Package memory stores objects in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

type entry struct {
	data  []byte
	attrs boxoffice.ObjectAttrs
}

// ObjectStore implements boxoffice.ObjectStore on a map with generation counters.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]entry
	nextGen int64
}

// NewObjectStore creates an empty in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]entry)}
}

// Head returns the attributes of key without its body.
func (s *ObjectStore) Head(_ context.Context, key string) (boxoffice.Lookup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return boxoffice.Lookup{}, nil
	}
	return boxoffice.Lookup{Found: true, Attrs: copyAttrs(e.attrs)}, nil
}

// Get returns a copy of the stored body.
func (s *ObjectStore) Get(_ context.Context, key string) (boxoffice.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return boxoffice.Object{}, fmt.Errorf("get %s: %w", key, boxoffice.ErrNotFound)
	}
	return boxoffice.Object{Data: append([]byte(nil), e.data...), Attrs: copyAttrs(e.attrs)}, nil
}

// Put stores a copy of data, checking the precondition under the lock.
func (s *ObjectStore) Put(
	_ context.Context,
	key string,
	data []byte,
	opts boxoffice.PutOptions,
) (boxoffice.ObjectAttrs, error) {
	if strings.TrimSpace(key) == "" {
		return boxoffice.ObjectAttrs{}, fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[key]
	switch {
	case opts.Precondition.DoesNotExist && exists:
		return boxoffice.ObjectAttrs{}, fmt.Errorf("put %s: %w", key, boxoffice.ErrPreconditionFailed)
	case opts.Precondition.GenerationMatch != 0 && (!exists || current.attrs.Generation != opts.Precondition.GenerationMatch):
		return boxoffice.ObjectAttrs{}, fmt.Errorf("put %s: %w", key, boxoffice.ErrPreconditionFailed)
	}

	s.nextGen++
	attrs := boxoffice.ObjectAttrs{
		Key:         key,
		Generation:  s.nextGen,
		Metadata:    copyMetadata(opts.Metadata),
		ContentType: opts.ContentType,
		Size:        int64(len(data)),
	}
	s.objects[key] = entry{data: append([]byte(nil), data...), attrs: attrs}
	return copyAttrs(attrs), nil
}

// Delete removes key. It exists for tests that simulate records vanishing.
func (s *ObjectStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// Keys lists every stored key with the given prefix.
func (s *ObjectStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func copyAttrs(a boxoffice.ObjectAttrs) boxoffice.ObjectAttrs {
	a.Metadata = copyMetadata(a.Metadata)
	return a
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
