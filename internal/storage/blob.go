package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"finlux/internal/core"
)

// Keys of the two durable blobs holding guest data.
const (
	KeyTransactions = "finlux_transactions"
	KeyAccounts     = "finlux_accounts"
)

// EncodeSnapshot serialises both stores as JSON arrays keyed by blob name.
func EncodeSnapshot(s core.Snapshot) (map[string][]byte, error) {
	txs := s.Transactions
	if txs == nil {
		txs = []core.Transaction{}
	}
	accs := s.Accounts
	if accs == nil {
		accs = []core.Account{}
	}

	txRaw, err := json.Marshal(txs)
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	accRaw, err := json.Marshal(accs)
	if err != nil {
		return nil, fmt.Errorf("encode accounts: %w", err)
	}
	return map[string][]byte{KeyTransactions: txRaw, KeyAccounts: accRaw}, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot. Missing blobs decode as
// empty stores.
func DecodeSnapshot(blobs map[string][]byte) (core.Snapshot, error) {
	s := core.Snapshot{Transactions: []core.Transaction{}, Accounts: []core.Account{}}
	if raw := blobs[KeyTransactions]; len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.Transactions); err != nil {
			return core.Snapshot{}, fmt.Errorf("decode %s: %w", KeyTransactions, err)
		}
	}
	if raw := blobs[KeyAccounts]; len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.Accounts); err != nil {
			return core.Snapshot{}, fmt.Errorf("decode %s: %w", KeyAccounts, err)
		}
	}
	return s, nil
}

// NoUpdates returns a channel that never carries a snapshot and closes when
// ctx is done. Local stores have a single writer, so there is nothing to push.
func NoUpdates(ctx context.Context) <-chan core.Snapshot {
	ch := make(chan core.Snapshot)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
