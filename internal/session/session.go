// Package session owns the persistence mode switch. A Manager holds exactly
// one authoritative ledger engine: a guest engine over local storage, or an
// authenticated engine over the signed-in user's remote partition. Switching
// rebuilds the engine from the new adapter; data is never merged.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finlux/internal/backend"
	"finlux/internal/core"
	"finlux/internal/ledger"
	"finlux/internal/log"
)

// State is the session lifecycle: init -> guest|authenticated -> disposed.
type State string

const (
	StateInit          State = "init"
	StateGuest         State = "guest"
	StateAuthenticated State = "authenticated"
	StateDisposed      State = "disposed"
)

var (
	ErrSessionClosed = core.ErrSessionClosed
	ErrNotStarted    = errors.New("session not started")
	ErrInvalidUser   = errors.New("user id is required")
	ErrNotSignedIn   = errors.New("not signed in")
)

// AdapterFactory builds the adapters a session switches between.
type AdapterFactory interface {
	NewLocal(ctx context.Context) (backend.Adapter, error)
	NewRemote(ctx context.Context, userID string) (backend.Adapter, error)
}

// Info describes the current session.
type Info struct {
	State  State  `json:"state"`
	Mode   string `json:"mode"`
	UserID string `json:"userId,omitempty"`
}

type Manager struct {
	factory AdapterFactory
	opts    []ledger.Option
	logger  *log.Logger

	mu     sync.RWMutex
	state  State
	userID string
	engine *ledger.Engine
	// attachCtx outlives individual requests; subscriptions run under it.
	attachCtx    context.Context
	attachCancel context.CancelFunc
}

// NewManager returns a manager in StateInit. opts are applied to every
// engine it builds.
func NewManager(factory AdapterFactory, logger *log.Logger, opts ...ledger.Option) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:      factory,
		opts:         opts,
		logger:       logger.WithComponent(log.ComponentSession),
		state:        StateInit,
		attachCtx:    ctx,
		attachCancel: cancel,
	}
}

// Start enters guest mode from init.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDisposed:
		return ErrSessionClosed
	case StateInit:
	default:
		return nil
	}

	if err := m.enterGuest(ctx); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "Session started", log.NewFields().WithOperation(log.OpStartup).WithSession(string(m.state), "").ToSlice()...)
	return nil
}

// SignIn replaces the guest engine with one bound to userID's remote
// partition. Guest data stays in local storage and is not copied.
func (m *Manager) SignIn(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDisposed:
		return ErrSessionClosed
	case StateInit:
		return ErrNotStarted
	case StateAuthenticated:
		if m.userID == userID {
			return nil
		}
	}

	adapter, err := m.factory.NewRemote(ctx, userID)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	engine, err := m.build(ctx, adapter, backend.Authenticated, userID)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	m.dispose(ctx)
	m.engine = engine
	m.state = StateAuthenticated
	m.userID = userID

	m.logger.InfoContext(ctx, "Signed in", log.NewFields().WithOperation(log.OpSignIn).WithSession(string(m.state), userID).ToSlice()...)
	return nil
}

// SignOut drops the remote engine and re-initialises from local storage.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDisposed:
		return ErrSessionClosed
	case StateAuthenticated:
	default:
		return ErrNotSignedIn
	}

	prev := m.userID
	m.dispose(ctx)
	m.userID = ""
	if err := m.enterGuest(ctx); err != nil {
		m.state = StateInit
		return fmt.Errorf("sign out: %w", err)
	}
	m.logger.InfoContext(ctx, "Signed out", log.NewFields().WithOperation(log.OpSignOut).WithSession(string(m.state), prev).ToSlice()...)
	return nil
}

// Engine returns the authoritative engine.
func (m *Manager) Engine() (*ledger.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.state {
	case StateDisposed:
		return nil, ErrSessionClosed
	case StateInit:
		return nil, ErrNotStarted
	}
	return m.engine, nil
}

func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{State: m.state, UserID: m.userID}
	if m.engine != nil {
		info.Mode = m.engine.Mode().String()
	}
	return info
}

// Close disposes the engine and moves to StateDisposed. It is safe to call
// more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisposed {
		return nil
	}
	err := m.dispose(context.Background())
	m.attachCancel()
	m.state = StateDisposed
	m.userID = ""
	m.logger.Info("Session closed", log.FieldOperation, log.OpShutdown)
	return err
}

func (m *Manager) enterGuest(ctx context.Context) error {
	adapter, err := m.factory.NewLocal(ctx)
	if err != nil {
		return fmt.Errorf("open guest store: %w", err)
	}
	engine, err := m.build(ctx, adapter, backend.Guest, "")
	if err != nil {
		return err
	}
	m.engine = engine
	m.state = StateGuest
	return nil
}

// build loads the adapter's first snapshot and attaches its subscription.
// The adapter is closed if either step fails.
func (m *Manager) build(ctx context.Context, adapter backend.Adapter, mode backend.Mode, userID string) (*ledger.Engine, error) {
	opts := append(append([]ledger.Option{}, m.opts...),
		ledger.WithLogger(m.logger),
		ledger.WithSession(mode, userID))
	engine := ledger.New(adapter, opts...)

	if err := engine.Load(ctx); err != nil {
		adapter.Close()
		return nil, err
	}
	if err := engine.Attach(m.attachCtx); err != nil {
		adapter.Close()
		return nil, err
	}
	return engine, nil
}

func (m *Manager) dispose(ctx context.Context) error {
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	if err != nil {
		m.logger.WarnContext(ctx, "Closing engine failed", log.FieldError, err)
	}
	m.engine = nil
	return err
}
