package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finlux/internal/log"
	"finlux/internal/remote"
	"finlux/internal/storage"
	"finlux/internal/storage/memory"
)

var (
	_ Adapter = (*storage.KVStore)(nil)
	_ Adapter = (*memory.Store)(nil)
	_ Adapter = (*remote.Adapter)(nil)

	_ IdempotencyStore = (*storage.KVStore)(nil)
)

// ErrRemoteDisabled is returned by NewRemote when no remote store is configured.
var ErrRemoteDisabled = errors.New("remote storage is not configured")

// Factory builds guest and per-user adapters from one configuration.
type Factory struct {
	config Config
	logger *log.Logger

	mu     sync.Mutex
	store  remote.Store
	memory *memory.Store
}

// NewFactory creates a new adapter factory
func NewFactory(config Config, logger *log.Logger) (*Factory, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Factory{config: config, logger: logger.WithComponent(log.ComponentBackend)}, nil
}

// WithRemoteStore makes NewRemote use store instead of dialling Supabase.
func (f *Factory) WithRemoteStore(store remote.Store) *Factory {
	f.mu.Lock()
	f.store = store
	f.mu.Unlock()
	return f
}

func (f *Factory) RemoteEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store != nil || f.config.RemoteEnabled()
}

// NewLocal opens the guest adapter.
func (f *Factory) NewLocal(ctx context.Context) (Adapter, error) {
	switch f.config.Local {
	case SQLiteStore:
		kv, err := storage.NewKVStore(f.config.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open guest store: %w", err)
		}
		f.logger.InfoContext(ctx, "Opened guest store", "kind", f.config.Local, "db_path", f.config.SQLiteDBPath)
		return kv, nil
	case MemoryStore:
		// One memory store per factory so guest data survives sign-in/sign-out
		// within the process.
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.memory == nil {
			f.memory = memory.NewFromFiles(f.config.DataDirectory)
			f.logger.InfoContext(ctx, "Opened guest store", "kind", f.config.Local, "data_directory", f.config.DataDirectory)
		}
		return f.memory, nil
	default:
		return nil, fmt.Errorf("unsupported local store: %s", f.config.Local)
	}
}

// NewRemote builds the adapter for one user's partition.
func (f *Factory) NewRemote(ctx context.Context, userID string) (Adapter, error) {
	store, err := f.remoteStore()
	if err != nil {
		return nil, err
	}
	a, err := remote.New(store, userID,
		remote.WithPollInterval(f.config.PollInterval),
		remote.WithLogger(f.logger))
	if err != nil {
		return nil, err
	}
	f.logger.InfoContext(ctx, "Opened remote store", log.FieldUserID, userID)
	return a, nil
}

func (f *Factory) remoteStore() (remote.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store != nil {
		return f.store, nil
	}
	if !f.config.RemoteEnabled() {
		return nil, ErrRemoteDisabled
	}
	s, err := remote.NewSupabaseStore(f.config.SupabaseURL, f.config.SupabaseKey)
	if err != nil {
		return nil, err
	}
	f.store = s
	return s, nil
}
