package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates "<prefix>-<n>" identifiers with n counting
// from 1. Runs with the same prefix produce the same ids, so traces and
// golden files stay byte-identical.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequenceGenerator creates a generator. An empty prefix means "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next identifier.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many identifiers were generated.
func (g *SequenceGenerator) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence, so the next Generate returns "<prefix>-1".
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

// FixedGenerator returns the same identifier every time.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedGenerator struct {
	id string
}

// NewFixedGenerator creates a generator of id. An empty id means
// "test-session".
func NewFixedGenerator(id string) FixedGenerator {
	if id == "" {
		id = "test-session"
	}
	return FixedGenerator{id: id}
}

// Generate returns the fixed identifier.
func (g FixedGenerator) Generate() string {
	return g.id
}
