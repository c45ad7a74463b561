// Package ledger keeps account balances reconciled with the transaction log.
//
// An Engine owns the in-memory transaction and account stores for one
// session and talks to exactly one persistence adapter. Every mutation
// computes the complete post-mutation state, hands it to the adapter, and
// adopts it only once the adapter acknowledges. A failed commit leaves the
// stores untouched.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finlux/internal/backend"
	"finlux/internal/cache"
	"finlux/internal/core"
	"finlux/internal/log"
)

// ErrAttached is returned by Attach when a subscription is already running.
var ErrAttached = errors.New("engine already attached")

// Engine reconciles one session's transactions and account balances.
type Engine struct {
	adapter   backend.Adapter
	mode      backend.Mode
	userID    string
	clock     func() time.Time
	newID     func() string
	timeout   time.Duration
	publisher Publisher
	logger    *log.Logger
	events    *log.StructuredLogger
	idem      *cache.LRUCache[core.Transaction]

	// opMu serialises mutations and snapshot application.
	opMu sync.Mutex

	mu    sync.RWMutex
	state core.Snapshot
	agg   core.Aggregates

	subMu     sync.Mutex
	subCancel context.CancelFunc
	subDone   chan struct{}
}

// New returns an engine over adapter with empty stores. Call Load before use.
func New(adapter backend.Adapter, opts ...Option) *Engine {
	e := &Engine{
		adapter: adapter,
		mode:    backend.Guest,
		clock:   time.Now,
		newID:   defaultIDGenerator,
		timeout: DefaultTimeout,
		logger:  log.Discard(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.idem == nil {
		e.idem = NewIdempotencyCache(DefaultIdempotencyTTL)
	}
	e.logger = e.logger.WithComponent(log.ComponentLedger)
	e.events = log.NewStructuredLogger(e.logger)
	e.state = core.Snapshot{Transactions: []core.Transaction{}, Accounts: []core.Account{}}
	return e
}

func (e *Engine) Mode() backend.Mode { return e.mode }

func (e *Engine) UserID() string { return e.userID }

// IdempotencyCache exposes the result cache for periodic cleanup.
func (e *Engine) IdempotencyCache() *cache.LRUCache[core.Transaction] { return e.idem }

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// Load replaces both stores with the adapter's current contents.
func (e *Engine) Load(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.reload(ctx, "load")
}

func (e *Engine) reload(ctx context.Context, op string) error {
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()

	snap, err := e.adapter.Load(cctx)
	if err != nil {
		return e.fail(ctx, op, err)
	}
	e.setState(snap)
	e.logger.DebugContext(ctx, "Stores loaded",
		log.FieldOperation, log.OpLoad,
		"transactions", len(snap.Transactions),
		"accounts", len(snap.Accounts))
	return nil
}

// Attach starts applying the adapter's snapshots until ctx is done or the
// engine is detached.
func (e *Engine) Attach(ctx context.Context) error {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subCancel != nil {
		return ErrAttached
	}

	sctx, cancel := context.WithCancel(ctx)
	ch, err := e.adapter.Subscribe(sctx)
	if err != nil {
		cancel()
		return e.fail(ctx, "subscribe", err)
	}

	done := make(chan struct{})
	e.subCancel = cancel
	e.subDone = done
	go func() {
		defer close(done)
		for snap := range ch {
			e.ApplySnapshot(snap)
		}
	}()
	return nil
}

// Detach stops the subscription started by Attach and waits for it to end.
func (e *Engine) Detach() {
	e.subMu.Lock()
	cancel, done := e.subCancel, e.subDone
	e.subCancel, e.subDone = nil, nil
	e.subMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ApplySnapshot replaces both stores wholesale.
func (e *Engine) ApplySnapshot(snap core.Snapshot) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.setState(snap)
	e.logger.Debug("Snapshot applied",
		log.FieldOperation, log.OpSync,
		"transactions", len(snap.Transactions),
		"accounts", len(snap.Accounts))
}

// Close detaches and closes the adapter.
func (e *Engine) Close() error {
	e.Detach()
	return e.adapter.Close()
}

// Add books a new transaction and applies its effect to the account.
func (e *Engine) Add(ctx context.Context, d core.Draft) (core.Transaction, error) {
	const op = "add"
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Transaction{}, e.invalid(ctx, op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if tx, ok, err := e.replay(ctx, op, d.IdempotencyKey); err != nil || ok {
		return tx, err
	}

	state := e.snapshot()
	if state.AccountIndex(d.AccountID) < 0 {
		return core.Transaction{}, e.invalid(ctx, op, fmt.Errorf("%w: %s", core.ErrUnknownAccount, d.AccountID))
	}

	tx := d.Apply(core.Transaction{ID: e.newID(), Date: e.clock().UTC()})
	adjs, err := adjust(&state, map[string]core.Money{tx.AccountID: tx.Effect()}, []string{tx.AccountID})
	if err != nil {
		return core.Transaction{}, e.invalid(ctx, op, err)
	}
	state.Transactions = append([]core.Transaction{tx}, state.Transactions...)

	change := core.Change{Op: core.OpAdd, Transaction: tx, Adjustments: adjs, State: state, IdempotencyKey: e.scopedKey(op, d.IdempotencyKey)}
	if err := e.commit(ctx, op, change); err != nil {
		return core.Transaction{}, err
	}
	e.remember(op, d.IdempotencyKey, tx)
	return tx, nil
}

// Update replaces every field of transaction id except the id itself. The
// old effect is reversed on the old account and the new effect applied on
// the new one; deltas on the same account are netted.
func (e *Engine) Update(ctx context.Context, id string, d core.Draft) (core.Transaction, error) {
	const op = "update"
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Transaction{}, e.invalid(ctx, op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if tx, ok, err := e.replay(ctx, op, d.IdempotencyKey); err != nil || ok {
		return tx, err
	}

	state := e.snapshot()
	idx := state.TransactionIndex(id)
	if idx < 0 {
		err := &core.MutationError{Op: op, Kind: core.KindNotFound, Err: fmt.Errorf("%w: %s", core.ErrNotFound, id)}
		e.logFailure(ctx, err)
		return core.Transaction{}, err
	}
	if state.AccountIndex(d.AccountID) < 0 {
		return core.Transaction{}, e.invalid(ctx, op, fmt.Errorf("%w: %s", core.ErrUnknownAccount, d.AccountID))
	}

	prev := state.Transactions[idx]
	next := d.Apply(prev)

	deltas := map[string]core.Money{}
	order := []string{}
	if state.AccountIndex(prev.AccountID) >= 0 {
		deltas[prev.AccountID] = prev.Effect().Neg()
		order = append(order, prev.AccountID)
	}
	if _, seen := deltas[next.AccountID]; !seen {
		order = append(order, next.AccountID)
	}
	deltas[next.AccountID] = deltas[next.AccountID].Add(next.Effect())

	adjs, err := adjust(&state, deltas, order)
	if err != nil {
		return core.Transaction{}, e.invalid(ctx, op, err)
	}
	state.Transactions[idx] = next

	change := core.Change{Op: core.OpUpdate, Transaction: next, Previous: &prev, Adjustments: adjs, State: state, IdempotencyKey: e.scopedKey(op, d.IdempotencyKey)}
	if err := e.commit(ctx, op, change); err != nil {
		return core.Transaction{}, err
	}
	e.remember(op, d.IdempotencyKey, next)
	return next, nil
}

// Delete removes transaction id and reverses its effect. Unknown ids are a
// no-op, as is the balance step when the account no longer exists.
func (e *Engine) Delete(ctx context.Context, id string) (core.Transaction, error) {
	return e.DeleteWithKey(ctx, id, "")
}

func (e *Engine) DeleteWithKey(ctx context.Context, id, key string) (core.Transaction, error) {
	const op = "delete"
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if tx, ok, err := e.replay(ctx, op, key); err != nil || ok {
		return tx, err
	}

	state := e.snapshot()
	idx := state.TransactionIndex(id)
	if idx < 0 {
		return core.Transaction{}, nil
	}
	prev := state.Transactions[idx]

	var adjs []core.BalanceAdjustment
	if state.AccountIndex(prev.AccountID) >= 0 {
		var err error
		adjs, err = adjust(&state, map[string]core.Money{prev.AccountID: prev.Effect().Neg()}, []string{prev.AccountID})
		if err != nil {
			return core.Transaction{}, e.invalid(ctx, op, err)
		}
	} else {
		e.logger.WarnContext(ctx, "Deleting transaction of unknown account",
			log.FieldOperation, log.OpDelete,
			log.FieldTransactionID, prev.ID,
			log.FieldAccountID, prev.AccountID)
	}
	state.Transactions = append(state.Transactions[:idx:idx], state.Transactions[idx+1:]...)

	change := core.Change{Op: core.OpDelete, Transaction: prev, Previous: &prev, Adjustments: adjs, State: state, IdempotencyKey: e.scopedKey(op, key)}
	if err := e.commit(ctx, op, change); err != nil {
		return core.Transaction{}, err
	}
	e.remember(op, key, prev)
	return prev, nil
}

// Reset deletes all data in the active adapter and reloads, which seeds the
// default accounts again.
func (e *Engine) Reset(ctx context.Context) error {
	const op = "reset"
	e.opMu.Lock()
	defer e.opMu.Unlock()

	cctx, cancel := e.withTimeout(ctx)
	err := e.adapter.Reset(cctx)
	cancel()
	if err != nil {
		return e.fail(ctx, op, err)
	}
	if err := e.reload(ctx, op); err != nil {
		return err
	}
	e.publish(ctx, core.OpReset, core.Transaction{}, nil)
	return nil
}

// commit persists change and, once acknowledged, adopts its state.
func (e *Engine) commit(ctx context.Context, op string, change core.Change) error {
	cctx, cancel := e.withTimeout(ctx)
	err := e.adapter.Commit(cctx, change)
	cancel()
	if err != nil {
		merr := e.fail(ctx, op, err)
		if merr.Kind == core.KindConflict {
			// Pick up the versions that beat us so a retry can succeed.
			if rerr := e.reload(ctx, "refresh"); rerr != nil {
				e.logger.WarnContext(ctx, "Refresh after conflict failed", log.FieldError, rerr)
			}
		}
		return merr
	}

	e.setState(change.State)
	tx := change.Transaction
	e.events.LogTransactionCommitted(ctx, op, tx.ID, string(tx.Type), tx.Amount.Cents, tx.AccountID, tx.Category)
	e.publish(ctx, change.Op, tx, change.Previous)
	return nil
}

func (e *Engine) publish(ctx context.Context, op core.ChangeOp, tx core.Transaction, prev *core.Transaction) {
	if e.publisher == nil {
		return
	}
	ev := core.ChangeEvent{
		ID:          e.newID(),
		Op:          op,
		Transaction: tx,
		Previous:    prev,
		Mode:        e.mode.String(),
		UserID:      e.userID,
		At:          e.clock().UTC(),
	}
	if err := e.publisher.PublishChange(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish change event",
			log.FieldOperation, string(op),
			log.FieldTransactionID, tx.ID,
			log.FieldError, err)
	}
}

// adjust applies deltas to the accounts in state, bumping their versions,
// and returns the adjustments in the given order. Zero deltas are dropped.
// A balance that would leave the int64 cent range is rejected.
func adjust(state *core.Snapshot, deltas map[string]core.Money, order []string) ([]core.BalanceAdjustment, error) {
	var adjs []core.BalanceAdjustment
	for _, id := range order {
		delta := deltas[id]
		if delta.IsZero() {
			continue
		}
		i := state.AccountIndex(id)
		if i < 0 {
			continue
		}
		acc := &state.Accounts[i]
		balance, ok := acc.Balance.CheckedAdd(delta)
		if !ok {
			return nil, fmt.Errorf("%w: %w: balance of account %s out of range", core.ErrValidation, core.ErrInvalidAmount, id)
		}
		adjs = append(adjs, core.BalanceAdjustment{AccountID: id, Delta: delta, ExpectedVersion: acc.Version})
		acc.Balance = balance
		acc.Version++
	}
	return adjs, nil
}

// scopedKey scopes key to the session so a shared cache never replays
// another user's result. An empty key stays empty.
func (e *Engine) scopedKey(op, key string) string {
	if key == "" {
		return ""
	}
	return string(e.mode) + ":" + e.userID + ":" + op + ":" + key
}

// replay returns the remembered result of key. It must be called with opMu
// held so that concurrent retries of one key commit once. Keys missing from
// the cache are looked up in the adapter when it persists them.
func (e *Engine) replay(ctx context.Context, op, key string) (core.Transaction, bool, error) {
	if key == "" {
		return core.Transaction{}, false, nil
	}
	scoped := e.scopedKey(op, key)
	if tx, ok := e.idem.Get(scoped); ok {
		e.logger.DebugContext(ctx, "Idempotent replay", log.FieldOperation, op, log.FieldIdempotency, key)
		return tx, true, nil
	}

	store, ok := e.adapter.(backend.IdempotencyStore)
	if !ok {
		return core.Transaction{}, false, nil
	}
	cctx, cancel := e.withTimeout(ctx)
	tx, at, found, err := store.Recall(cctx, scoped)
	cancel()
	if err != nil {
		return core.Transaction{}, false, e.fail(ctx, op, err)
	}
	if !found || e.clock().Sub(at) > e.idem.TTL() {
		return core.Transaction{}, false, nil
	}
	e.idem.Set(scoped, tx)
	e.logger.DebugContext(ctx, "Idempotent replay from store", log.FieldOperation, op, log.FieldIdempotency, key)
	return tx, true, nil
}

func (e *Engine) remember(op, key string, tx core.Transaction) {
	if key != "" {
		e.idem.Set(e.scopedKey(op, key), tx)
	}
}

func (e *Engine) invalid(ctx context.Context, op string, err error) *core.MutationError {
	merr := &core.MutationError{Op: op, Kind: core.KindValidation, Err: err}
	e.logFailure(ctx, merr)
	return merr
}

func (e *Engine) fail(ctx context.Context, op string, err error) *core.MutationError {
	merr := core.NewMutationError(op, err)
	e.logFailure(ctx, merr)
	return merr
}

func (e *Engine) logFailure(ctx context.Context, merr *core.MutationError) {
	fields := log.NewFields().
		WithErrorType(string(merr.Kind)).
		WithSession(e.mode.String(), e.userID)
	if merr.Kind == core.KindValidation || merr.Kind == core.KindNotFound {
		e.logger.InfoContext(ctx, "Mutation rejected", fields.WithOperation(merr.Op).WithError(merr.Err).ToSlice()...)
		return
	}
	e.events.LogError(ctx, "Mutation failed", merr.Err, merr.Op, fields)
}
