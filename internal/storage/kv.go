package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"finlux/internal/core"
	"finlux/internal/log"

	_ "modernc.org/sqlite"
)

// KVStore is the guest persistence adapter: two JSON blobs in a sqlite
// key-value table. Every commit rewrites both blobs in one SQL transaction,
// together with the idempotency key of the mutation when it has one.
type KVStore struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

// idempotencyPrefix marks kv rows holding the result of a keyed mutation.
const idempotencyPrefix = "idem:"

// idempotencyRetention bounds how long keyed results are kept on disk.
const idempotencyRetention = 24 * time.Hour

type idempotencyRecord struct {
	Transaction core.Transaction `json:"transaction"`
	At          time.Time        `json:"at"`
}

func NewKVStore(dbPath string, logger *log.Logger) (*KVStore, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &KVStore{db: db, logger: logger.WithComponent(log.ComponentStorage), now: time.Now}, nil
}

func (s *KVStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the raw value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistenceErr("read "+key, err)
	}
	return value, true, nil
}

// Load reads both blobs, seeding the default accounts when none exist.
func (s *KVStore) Load(ctx context.Context) (core.Snapshot, error) {
	blobs := make(map[string][]byte, 2)
	for _, key := range []string{KeyTransactions, KeyAccounts} {
		raw, ok, err := s.Get(ctx, key)
		if err != nil {
			return core.Snapshot{}, err
		}
		if ok {
			blobs[key] = raw
		}
	}

	snap, err := DecodeSnapshot(blobs)
	if err != nil {
		return core.Snapshot{}, persistenceErr("load", err)
	}

	if len(snap.Accounts) == 0 {
		snap.Accounts = core.DefaultAccounts()
		if err := s.write(ctx, snap, "", core.Transaction{}); err != nil {
			return core.Snapshot{}, err
		}
		s.logger.InfoContext(ctx, "Seeded default accounts", log.FieldOperation, log.OpLoad, "count", len(snap.Accounts))
	}

	return snap, nil
}

// Subscribe never emits: a local store has no other writer to observe.
func (s *KVStore) Subscribe(ctx context.Context) (<-chan core.Snapshot, error) {
	return NoUpdates(ctx), nil
}

// Commit persists the post-mutation state.
func (s *KVStore) Commit(ctx context.Context, ch core.Change) error {
	if err := s.write(ctx, ch.State, ch.IdempotencyKey, ch.Transaction); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "Change committed",
		log.FieldOperation, string(ch.Op),
		log.FieldTransactionID, ch.Transaction.ID)
	return nil
}

// Recall returns the result committed under an idempotency key.
func (s *KVStore) Recall(ctx context.Context, key string) (core.Transaction, time.Time, bool, error) {
	raw, ok, err := s.Get(ctx, idempotencyPrefix+key)
	if err != nil || !ok {
		return core.Transaction{}, time.Time{}, false, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return core.Transaction{}, time.Time{}, false, persistenceErr("decode idempotency key", err)
	}
	return rec.Transaction, rec.At, true, nil
}

// Reset removes both blobs and every stored idempotency key. The next Load
// seeds default accounts again.
func (s *KVStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?) OR key LIKE ?`,
		KeyTransactions, KeyAccounts, idempotencyPrefix+"%")
	if err != nil {
		return persistenceErr("reset", err)
	}
	s.logger.InfoContext(ctx, "Guest data cleared", log.FieldOperation, log.OpReset)
	return nil
}

// write stores snap and, when idemKey is set, the keyed result in one SQL
// transaction. Keyed results past idempotencyRetention are pruned.
func (s *KVStore) write(ctx context.Context, snap core.Snapshot, idemKey string, result core.Transaction) error {
	blobs, err := EncodeSnapshot(snap)
	if err != nil {
		return persistenceErr("encode", err)
	}
	now := s.now().UTC()
	if idemKey != "" {
		raw, err := json.Marshal(idempotencyRecord{Transaction: result, At: now})
		if err != nil {
			return persistenceErr("encode idempotency key", err)
		}
		blobs[idempotencyPrefix+idemKey] = raw
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin", err)
	}
	defer tx.Rollback()

	for key, value := range blobs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now)
		if err != nil {
			return persistenceErr("write "+key, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key LIKE ? AND updated_at < ?`,
		idempotencyPrefix+"%", now.Add(-idempotencyRetention)); err != nil {
		return persistenceErr("prune idempotency keys", err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("commit", err)
	}
	return nil
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
}
