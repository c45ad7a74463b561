package sheets

import (
	"context"

	"finlux/internal/core"
)

// MirrorWriter keeps an external copy of the ledger's transactions.
type MirrorWriter interface {
	// Upsert writes the transaction, replacing any row with the same id.
	Upsert(ctx context.Context, tx core.Transaction) error
	// Remove deletes the row for the transaction id. Unknown ids are not an error.
	Remove(ctx context.Context, id string) error
	// Clear drops every mirrored transaction.
	Clear(ctx context.Context) error
}
