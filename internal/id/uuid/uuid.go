// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultNamespace seeds name-based ids when none is configured.
const DefaultNamespace = "6f1c7a52-3a0e-4c55-9a43-2b8f1d0e9c11"

// Generator derives UUIDv5 ids from names so that retried batches reuse the
// same entry ids.
type Generator struct {
	namespace uuid.UUID
}

// New creates a Generator under namespace. An empty namespace uses DefaultNamespace.
func New(namespace string) (*Generator, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	ns, err := uuid.Parse(namespace)
	if err != nil {
		return nil, fmt.Errorf("parse id namespace: %w", err)
	}
	return &Generator{namespace: ns}, nil
}

// NameID returns the UUIDv5 of name within the generator's namespace.
func (g *Generator) NameID(name string) string {
	return uuid.NewSHA1(g.namespace, []byte(name)).String()
}

// NewID returns a random UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
