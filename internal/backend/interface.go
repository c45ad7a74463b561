package backend

import (
	"context"
	"time"

	"finlux/internal/core"
)

// Adapter is the single persistence contract the ledger engine talks to.
// Guest and authenticated storage both implement it; which one an engine
// gets is decided when the engine is built.
type Adapter interface {
	// Load returns the authoritative contents, seeding default accounts
	// when none exist.
	Load(ctx context.Context) (core.Snapshot, error)
	// Subscribe streams full-replace snapshots until ctx is done. The
	// channel is closed on return. Local adapters never send.
	Subscribe(ctx context.Context) (<-chan core.Snapshot, error)
	// Commit persists one mutation.
	Commit(ctx context.Context, ch core.Change) error
	// Reset deletes all stored data.
	Reset(ctx context.Context) error
	Close() error
}

// IdempotencyStore is implemented by adapters that persist Change.IdempotencyKey
// in the same write as the mutation, so a retry from another process is still
// recognised. Recall reports the stored result and when it was committed.
type IdempotencyStore interface {
	Recall(ctx context.Context, key string) (core.Transaction, time.Time, bool, error)
}

// Mode is the persistence mode of a session.
type Mode string

const (
	Guest         Mode = "guest"
	Authenticated Mode = "authenticated"
)

func (m Mode) String() string { return string(m) }

func (m Mode) IsValid() bool {
	switch m {
	case Guest, Authenticated:
		return true
	default:
		return false
	}
}

// LocalKind selects the guest adapter implementation.
type LocalKind string

const (
	SQLiteStore LocalKind = "sqlite"
	MemoryStore LocalKind = "memory"
)

// String implements fmt.Stringer
func (k LocalKind) String() string {
	return string(k)
}

// IsValid returns true if the local store kind is known
func (k LocalKind) IsValid() bool {
	switch k {
	case SQLiteStore, MemoryStore:
		return true
	default:
		return false
	}
}
