package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceIDGenerator returns "<prefix>-0001", "<prefix>-0002", ...
//
// It stands in for the engine's UUIDv7 generator so batch and generation
// ids are stable across test runs and golden snapshots.
//
// Thread-safety: safe for concurrent use (atomic counter).
type SequenceIDGenerator struct {
	prefix string
	seq    atomic.Int64
}

// NewSequenceIDGenerator creates a generator. An empty prefix means "test".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator.
func (g *SequenceIDGenerator) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq.Add(1))
}
