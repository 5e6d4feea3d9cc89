// Package search defines an opaque reindex sink for an external search
// index, consumed only through its reindex(contracts) contract.
package search

import "context"

// Reindexer is called at the end of a flush with the set of contract
// addresses touched by that flush's events.
type Reindexer interface {
	Reindex(ctx context.Context, contracts []string) error
}

// Noop is a Reindexer that does nothing, for tests and local runs
// without a search index wired up.
type Noop struct{}

// Reindex implements Reindexer.
func (Noop) Reindex(ctx context.Context, contracts []string) error { return nil }
