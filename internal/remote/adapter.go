// Package remote is the authenticated persistence adapter. Each user owns a
// partition of two tables in a Supabase (PostgREST) project; every query is
// filtered by user_id.
package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"finlux/internal/core"
	"finlux/internal/log"
)

const (
	defaultPollInterval      = 5 * time.Second
	defaultCompensateTimeout = 10 * time.Second
)

type Adapter struct {
	store             Store
	userID            string
	pollInterval      time.Duration
	compensateTimeout time.Duration
	logger            *log.Logger
}

type Option func(*Adapter)

func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCompensateTimeout bounds the rollback of a failed commit, which runs
// after the caller's context may already have expired.
func WithCompensateTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.compensateTimeout = d
		}
	}
}

func New(store Store, userID string, opts ...Option) (*Adapter, error) {
	if store == nil {
		return nil, errors.New("remote store is nil")
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	a := &Adapter{
		store:             store,
		userID:            userID,
		pollInterval:      defaultPollInterval,
		compensateTimeout: defaultCompensateTimeout,
		logger:            log.Discard(),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.WithComponent(log.ComponentRemote).With(log.FieldUserID, userID)
	return a, nil
}

func (a *Adapter) UserID() string { return a.userID }

func (a *Adapter) owner() Filter { return Filter{"user_id": a.userID} }

// Load fetches both collections concurrently. A user with no accounts gets
// the defaults inserted before Load returns.
func (a *Adapter) Load(ctx context.Context) (core.Snapshot, error) {
	snap, err := a.fetch(ctx)
	if err != nil {
		return core.Snapshot{}, err
	}
	if len(snap.Accounts) > 0 {
		return snap, nil
	}

	defaults := core.DefaultAccounts()
	rows := make([]accountRow, len(defaults))
	for i, acc := range defaults {
		rows[i] = toAccountRow(a.userID, i, acc)
	}
	if err := a.store.Insert(ctx, TableAccounts, rows); err != nil {
		// Another device may have seeded first.
		again, ferr := a.fetch(ctx)
		if ferr == nil && len(again.Accounts) > 0 {
			return again, nil
		}
		return core.Snapshot{}, wrap("seed accounts", err)
	}
	a.logger.InfoContext(ctx, "Seeded default accounts", log.FieldOperation, log.OpLoad)
	snap.Accounts = defaults
	return snap, nil
}

func (a *Adapter) fetch(ctx context.Context) (core.Snapshot, error) {
	var (
		txRows  []transactionRow
		accRows []accountRow
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := a.store.Select(gctx, TableTransactions, a.owner(), &Order{Column: "date", Desc: true})
		if err != nil {
			return wrap("select transactions", err)
		}
		if err := json.Unmarshal(data, &txRows); err != nil {
			return wrap("decode transactions", err)
		}
		return nil
	})
	g.Go(func() error {
		data, err := a.store.Select(gctx, TableAccounts, a.owner(), &Order{Column: "position"})
		if err != nil {
			return wrap("select accounts", err)
		}
		if err := json.Unmarshal(data, &accRows); err != nil {
			return wrap("decode accounts", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Snapshot{}, err
	}

	snap := core.Snapshot{
		Transactions: make([]core.Transaction, len(txRows)),
		Accounts:     make([]core.Account, len(accRows)),
	}
	for i, r := range txRows {
		snap.Transactions[i] = r.toCore()
	}
	for i, r := range accRows {
		snap.Accounts[i] = r.toCore()
	}
	return snap, nil
}

// Subscribe polls the partition and emits a snapshot whenever its content
// changes. The first snapshot is sent immediately.
func (a *Adapter) Subscribe(ctx context.Context) (<-chan core.Snapshot, error) {
	ch := make(chan core.Snapshot, 1)
	go a.poll(ctx, ch)
	return ch, nil
}

func (a *Adapter) poll(ctx context.Context, ch chan<- core.Snapshot) {
	defer close(ch)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var last string
	for {
		snap, err := a.fetch(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			a.logger.WarnContext(ctx, "Remote poll failed",
				log.FieldOperation, log.OpSubscribe,
				log.FieldError, err)
		default:
			if fp := fingerprint(snap); fp != last {
				last = fp
				select {
				case ch <- snap:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fingerprint(s core.Snapshot) string {
	raw, _ := json.Marshal(s)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Commit applies balance adjustments first, each guarded by the account
// version, then writes the transaction document. Any failure rolls back the
// adjustments already applied.
func (a *Adapter) Commit(ctx context.Context, ch core.Change) error {
	applied := make([]core.BalanceAdjustment, 0, len(ch.Adjustments))
	for _, adj := range ch.Adjustments {
		if err := a.adjust(ctx, adj); err != nil {
			return a.rollback(ctx, ch.Op, applied, err)
		}
		applied = append(applied, adj)
	}

	if err := a.writeDocument(ctx, ch); err != nil {
		return a.rollback(ctx, ch.Op, applied, err)
	}

	a.logger.DebugContext(ctx, "Change committed",
		log.FieldOperation, string(ch.Op),
		log.FieldTransactionID, ch.Transaction.ID,
		"adjustments", len(ch.Adjustments))
	return nil
}

// adjust adds adj.Delta to the stored balance if the account is still at
// adj.ExpectedVersion.
func (a *Adapter) adjust(ctx context.Context, adj core.BalanceAdjustment) error {
	current, err := a.account(ctx, adj.AccountID)
	if err != nil {
		return err
	}
	if current.Version != adj.ExpectedVersion {
		return fmt.Errorf("%w: account %s at version %d, expected %d",
			core.ErrConflict, adj.AccountID, current.Version, adj.ExpectedVersion)
	}
	return a.casBalance(ctx, current, adj.Delta)
}

func (a *Adapter) account(ctx context.Context, id string) (accountRow, error) {
	filter := a.owner()
	filter["id"] = id
	data, err := a.store.Select(ctx, TableAccounts, filter, nil)
	if err != nil {
		return accountRow{}, wrap("select account", err)
	}
	var rows []accountRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return accountRow{}, wrap("decode account", err)
	}
	if len(rows) == 0 {
		return accountRow{}, fmt.Errorf("%w: account %s", core.ErrUnknownAccount, id)
	}
	return rows[0], nil
}

func (a *Adapter) casBalance(ctx context.Context, current accountRow, delta core.Money) error {
	filter := a.owner()
	filter["id"] = current.ID
	filter["version"] = strconv.FormatInt(current.Version, 10)

	patch := balancePatch{Balance: current.Balance.Add(delta), Version: current.Version + 1}
	data, err := a.store.Update(ctx, TableAccounts, patch, filter)
	if err != nil {
		return wrap("update balance", err)
	}
	var rows []accountRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return wrap("decode balance update", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: account %s changed during update", core.ErrConflict, current.ID)
	}
	return nil
}

func (a *Adapter) writeDocument(ctx context.Context, ch core.Change) error {
	switch ch.Op {
	case core.OpAdd:
		row := toTransactionRow(a.userID, ch.Transaction)
		if err := a.store.Insert(ctx, TableTransactions, []transactionRow{row}); err != nil {
			return wrap("insert transaction", err)
		}
	case core.OpUpdate:
		filter := a.owner()
		filter["id"] = ch.Transaction.ID
		data, err := a.store.Update(ctx, TableTransactions, toTransactionRow(a.userID, ch.Transaction), filter)
		if err != nil {
			return wrap("update transaction", err)
		}
		var rows []transactionRow
		if err := json.Unmarshal(data, &rows); err != nil {
			return wrap("decode transaction update", err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: transaction %s removed by another session", core.ErrConflict, ch.Transaction.ID)
		}
	case core.OpDelete:
		filter := a.owner()
		filter["id"] = ch.Transaction.ID
		if err := a.store.Delete(ctx, TableTransactions, filter); err != nil {
			return wrap("delete transaction", err)
		}
	default:
		return fmt.Errorf("%w: unsupported change %q", core.ErrPersistence, ch.Op)
	}
	return nil
}

// rollback reverses applied adjustments in reverse order and returns cause,
// joined with any rollback failure.
func (a *Adapter) rollback(ctx context.Context, op core.ChangeOp, applied []core.BalanceAdjustment, cause error) error {
	if len(applied) == 0 {
		return cause
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.compensateTimeout)
	defer cancel()

	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		adj := applied[i]
		if err := a.reverse(rctx, adj); err != nil {
			errs = append(errs, fmt.Errorf("reverse %s: %w", adj.AccountID, err))
		}
	}
	if len(errs) == 0 {
		a.logger.WarnContext(ctx, "Commit rolled back",
			log.FieldOperation, string(op),
			log.FieldError, cause)
		return cause
	}

	rbErr := errors.Join(errs...)
	a.logger.ErrorContext(ctx, "Rollback failed, balances may diverge from the log",
		log.FieldOperation, string(op),
		log.FieldError, cause,
		"rollback_error", rbErr)
	return errors.Join(cause, rbErr)
}

// reverse subtracts adj.Delta from whatever version the account is at now.
// A concurrent writer between read and write gets one retry.
func (a *Adapter) reverse(ctx context.Context, adj core.BalanceAdjustment) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var current accountRow
		current, err = a.account(ctx, adj.AccountID)
		if err != nil {
			return err
		}
		err = a.casBalance(ctx, current, adj.Delta.Neg())
		if !errors.Is(err, core.ErrConflict) {
			return err
		}
	}
	return err
}

// Reset deletes every row in the user's partition. The next Load reseeds.
func (a *Adapter) Reset(ctx context.Context) error {
	if err := a.store.Delete(ctx, TableTransactions, a.owner()); err != nil {
		return wrap("reset transactions", err)
	}
	if err := a.store.Delete(ctx, TableAccounts, a.owner()); err != nil {
		return wrap("reset accounts", err)
	}
	a.logger.InfoContext(ctx, "Remote data cleared", log.FieldOperation, log.OpReset)
	return nil
}

func (a *Adapter) Close() error { return nil }

func wrap(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", core.ErrTimeout, op, err)
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrPersistence):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
	}
}
