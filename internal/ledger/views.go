package ledger

import "finlux/internal/core"

func (e *Engine) setState(s core.Snapshot) {
	s = s.Clone()
	agg := core.ComputeAggregates(s)
	e.mu.Lock()
	e.state = s
	e.agg = agg
	e.mu.Unlock()
}

func (e *Engine) snapshot() core.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Snapshot returns a copy of both stores.
func (e *Engine) Snapshot() core.Snapshot { return e.snapshot() }

// Transactions returns the transaction store, newest first for locally
// created entries.
func (e *Engine) Transactions() []core.Transaction {
	return e.snapshot().Transactions
}

func (e *Engine) Accounts() []core.Account {
	return e.snapshot().Accounts
}

// Transaction looks up one transaction by id.
func (e *Engine) Transaction(id string) (core.Transaction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := e.state.TransactionIndex(id); i >= 0 {
		return e.state.Transactions[i], true
	}
	return core.Transaction{}, false
}

// Aggregates returns the totals recomputed on the last store change.
func (e *Engine) Aggregates() core.Aggregates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agg
}

func (e *Engine) CategoryBreakdown() []core.CategoryAmount {
	return core.CategoryBreakdown(e.Transactions())
}

// Budgets evaluates limits against current expenses. Nil means the defaults.
func (e *Engine) Budgets(budgets []core.Budget) []core.BudgetStatus {
	if budgets == nil {
		budgets = core.DefaultBudgets()
	}
	return core.EvaluateBudgets(budgets, e.Transactions())
}

// Discrepancy is an account whose stored balance disagrees with the log.
type Discrepancy struct {
	AccountID string     `json:"accountId"`
	Stored    core.Money `json:"stored"`
	FromLog   core.Money `json:"fromLog"`
}

// Verify lists accounts whose balance is not the signed sum of their
// transactions.
func (e *Engine) Verify() []Discrepancy {
	s := e.snapshot()
	var out []Discrepancy
	for _, a := range s.Accounts {
		want := core.AccountBalanceFromLog(a.ID, s.Transactions)
		if want != a.Balance {
			out = append(out, Discrepancy{AccountID: a.ID, Stored: a.Balance, FromLog: want})
		}
	}
	return out
}
