// Package memory is a guest adapter that keeps data in process memory.
// Nothing survives a restart; it backs LOCAL_STORE=memory and tests.
package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"finlux/internal/core"
	"finlux/internal/storage"
)

type Store struct {
	mu    sync.Mutex
	seed  core.Snapshot
	state *core.Snapshot
}

// New returns a store whose first Load yields seed. An empty account list
// is replaced with the default accounts.
func New(seed core.Snapshot) *Store {
	return &Store{seed: seed.Clone()}
}

// NewFromFiles seeds the store from finlux_transactions.json and
// finlux_accounts.json in base. Missing or unreadable files are ignored.
func NewFromFiles(base string) *Store {
	blobs := make(map[string][]byte, 2)
	for _, key := range []string{storage.KeyTransactions, storage.KeyAccounts} {
		if raw, err := os.ReadFile(filepath.Join(base, key+".json")); err == nil {
			blobs[key] = raw
		}
	}
	seed, err := storage.DecodeSnapshot(blobs)
	if err != nil {
		seed = core.Snapshot{}
	}
	return New(seed)
}

func (s *Store) Load(ctx context.Context) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		snap := s.seed.Clone()
		if len(snap.Accounts) == 0 {
			snap.Accounts = core.DefaultAccounts()
		}
		s.state = &snap
	}
	return s.state.Clone(), nil
}

func (s *Store) Subscribe(ctx context.Context) (<-chan core.Snapshot, error) {
	return storage.NoUpdates(ctx), nil
}

func (s *Store) Commit(ctx context.Context, ch core.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := ch.State.Clone()
	s.state = &snap
	return nil
}

// Reset drops everything, including the seed.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = core.Snapshot{}
	s.state = nil
	return nil
}

func (s *Store) Close() error { return nil }
