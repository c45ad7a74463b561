package core

import "sort"

// Aggregates is the derived view shown on the dashboard.
type Aggregates struct {
	TotalBalance Money `json:"totalBalance"`
	TotalIncome  Money `json:"totalIncome"`
	TotalExpense Money `json:"totalExpense"`
}

// ComputeAggregates derives the totals from a snapshot. TotalBalance sums the
// stored account balances, not the transaction log.
func ComputeAggregates(s Snapshot) Aggregates {
	var agg Aggregates
	for _, a := range s.Accounts {
		agg.TotalBalance = agg.TotalBalance.Add(a.Balance)
	}
	for _, tx := range s.Transactions {
		switch tx.Type {
		case Income:
			agg.TotalIncome = agg.TotalIncome.Add(tx.Amount)
		case Expense:
			agg.TotalExpense = agg.TotalExpense.Add(tx.Amount)
		}
	}
	return agg
}

// AccountBalanceFromLog is the signed sum of the transactions booked on accountID.
func AccountBalanceFromLog(accountID string, txs []Transaction) Money {
	var total Money
	for _, tx := range txs {
		if tx.AccountID == accountID {
			total = total.Add(tx.Effect())
		}
	}
	return total
}

type CategoryAmount struct {
	Category string `json:"category"`
	Amount   Money  `json:"amount"`
}

// CategoryBreakdown groups expenses by category, largest first.
func CategoryBreakdown(txs []Transaction) []CategoryAmount {
	totals := make(map[string]Money)
	for _, tx := range txs {
		if tx.Type != Expense {
			continue
		}
		totals[tx.Category] = totals[tx.Category].Add(tx.Amount)
	}
	out := make([]CategoryAmount, 0, len(totals))
	for c, m := range totals {
		out = append(out, CategoryAmount{Category: c, Amount: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Category < out[j].Category
	})
	return out
}

type Budget struct {
	Category string `json:"category"`
	Limit    Money  `json:"limit"`
}

type BudgetStatus struct {
	Category string `json:"category"`
	Spent    Money  `json:"spent"`
	Limit    Money  `json:"limit"`
	// Percent of the limit spent, capped at 100.
	Percent int   `json:"percent"`
	Over    bool  `json:"over"`
	Overage Money `json:"overage"`
}

// DefaultBudgets returns the monthly limits the app ships with.
func DefaultBudgets() []Budget {
	return []Budget{
		{Category: "Comida", Limit: Money{Cents: 20000}},
		{Category: "Transporte", Limit: Money{Cents: 5000}},
		{Category: "Ocio", Limit: Money{Cents: 10000}},
		{Category: "Hogar", Limit: Money{Cents: 50000}},
	}
}

// EvaluateBudgets compares expense totals per category against each limit.
func EvaluateBudgets(budgets []Budget, txs []Transaction) []BudgetStatus {
	spent := make(map[string]Money)
	for _, c := range CategoryBreakdown(txs) {
		spent[c.Category] = c.Amount
	}
	out := make([]BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		st := BudgetStatus{Category: b.Category, Spent: spent[b.Category], Limit: b.Limit}
		if b.Limit.Cents > 0 {
			pct := st.Spent.Cents * 100 / b.Limit.Cents
			if pct > 100 {
				pct = 100
			}
			st.Percent = int(pct)
		} else if st.Spent.Cents > 0 {
			st.Percent = 100
		}
		if st.Spent.Cents > b.Limit.Cents {
			st.Over = true
			st.Overage = st.Spent.Sub(b.Limit)
		}
		out = append(out, st)
	}
	return out
}
