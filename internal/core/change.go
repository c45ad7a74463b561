package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChangeOp names a committed mutation.
type ChangeOp string

const (
	OpAdd    ChangeOp = "add"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	OpReset  ChangeOp = "reset"
)

// Change is one mutation handed to a persistence adapter. Local adapters
// persist State wholesale; remote adapters apply the adjustments and then the
// transaction document named by Op.
type Change struct {
	Op          ChangeOp
	Transaction Transaction
	// Previous is the stored version of the transaction for update and delete.
	Previous    *Transaction
	Adjustments []BalanceAdjustment
	// State is the complete store contents after the mutation.
	State Snapshot
	// IdempotencyKey is the session-scoped retry key, empty when the caller
	// gave none.
	IdempotencyKey string
}

// ChangeEvent is published after a mutation has been committed.
type ChangeEvent struct {
	ID          string       `json:"id"`
	Op          ChangeOp     `json:"op"`
	Transaction Transaction  `json:"transaction"`
	Previous    *Transaction `json:"previous,omitempty"`
	Mode        string       `json:"mode"`
	UserID      string       `json:"user_id,omitempty"`
	At          time.Time    `json:"at"`
}

// Partition names whose data an event belongs to: the guest store, or one
// signed-in user's remote data.
type Partition struct {
	Mode   string
	UserID string
}

// GuestPartition is the local guest store.
var GuestPartition = Partition{Mode: "guest"}

var ErrInvalidPartition = errors.New(`invalid partition: want "guest" or "authenticated:<user id>"`)

// ParsePartition reads the String form of a partition.
func ParsePartition(s string) (Partition, error) {
	s = strings.TrimSpace(s)
	if s == GuestPartition.Mode {
		return GuestPartition, nil
	}
	mode, user, ok := strings.Cut(s, ":")
	if !ok || mode != "authenticated" || strings.TrimSpace(user) == "" {
		return Partition{}, fmt.Errorf("%w: %q", ErrInvalidPartition, s)
	}
	return Partition{Mode: mode, UserID: strings.TrimSpace(user)}, nil
}

func (p Partition) String() string {
	if p.UserID == "" {
		return p.Mode
	}
	return p.Mode + ":" + p.UserID
}

// Partition returns the partition the event was committed in.
func (ev ChangeEvent) Partition() Partition {
	return Partition{Mode: ev.Mode, UserID: ev.UserID}
}
