package core

import "testing"

func sample() Snapshot {
	return Snapshot{
		Accounts: []Account{
			{ID: "a", Balance: Money{Cents: 7000}},
			{ID: "b", Balance: Money{Cents: 20000}},
		},
		Transactions: []Transaction{
			{ID: "1", Type: Expense, Amount: Money{Cents: 3000}, Category: "Comida", AccountID: "a"},
			{ID: "2", Type: Income, Amount: Money{Cents: 20000}, Category: "Salary", AccountID: "b"},
			{ID: "3", Type: Expense, Amount: Money{Cents: 6000}, Category: "Transporte", AccountID: "a"},
			{ID: "4", Type: Expense, Amount: Money{Cents: 500}, Category: "Comida", AccountID: "b"},
		},
	}
}

func TestComputeAggregates(t *testing.T) {
	agg := ComputeAggregates(sample())
	if agg.TotalBalance.Cents != 27000 {
		t.Errorf("balance = %d", agg.TotalBalance.Cents)
	}
	if agg.TotalIncome.Cents != 20000 {
		t.Errorf("income = %d", agg.TotalIncome.Cents)
	}
	if agg.TotalExpense.Cents != 9500 {
		t.Errorf("expense = %d", agg.TotalExpense.Cents)
	}

	if got := ComputeAggregates(Snapshot{}); got != (Aggregates{}) {
		t.Errorf("empty snapshot aggregates = %+v", got)
	}
}

func TestAccountBalanceFromLog(t *testing.T) {
	s := sample()
	if got := AccountBalanceFromLog("a", s.Transactions).Cents; got != -9000 {
		t.Fatalf("a = %d", got)
	}
	if got := AccountBalanceFromLog("b", s.Transactions).Cents; got != 19500 {
		t.Fatalf("b = %d", got)
	}
}

func TestCategoryBreakdown(t *testing.T) {
	got := CategoryBreakdown(sample().Transactions)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Category != "Transporte" || got[0].Amount.Cents != 6000 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Category != "Comida" || got[1].Amount.Cents != 3500 {
		t.Errorf("second = %+v", got[1])
	}
}

func TestEvaluateBudgets(t *testing.T) {
	st := EvaluateBudgets(DefaultBudgets(), sample().Transactions)
	byCat := map[string]BudgetStatus{}
	for _, s := range st {
		byCat[s.Category] = s
	}

	comida := byCat["Comida"]
	if comida.Spent.Cents != 3500 || comida.Percent != 17 || comida.Over {
		t.Errorf("comida = %+v", comida)
	}
	tr := byCat["Transporte"]
	if !tr.Over || tr.Percent != 100 || tr.Overage.Cents != 1000 {
		t.Errorf("transporte = %+v", tr)
	}
	if ocio := byCat["Ocio"]; ocio.Spent.Cents != 0 || ocio.Percent != 0 {
		t.Errorf("ocio = %+v", ocio)
	}
}
