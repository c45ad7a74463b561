package remote

import (
	"time"

	"finlux/internal/core"
)

const (
	TableTransactions = "finlux_transactions"
	TableAccounts     = "finlux_accounts"
)

type transactionRow struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        string     `json:"type"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	AccountID   string     `json:"account_id"`
	Date        time.Time  `json:"date"`
}

type accountRow struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	Name     string     `json:"name"`
	Balance  core.Money `json:"balance"`
	Icon     string     `json:"icon"`
	Version  int64      `json:"version"`
	Position int        `json:"position"`
}

// balancePatch is the column set written by a version-checked balance update.
type balancePatch struct {
	Balance core.Money `json:"balance"`
	Version int64      `json:"version"`
}

func toTransactionRow(userID string, tx core.Transaction) transactionRow {
	return transactionRow{
		ID:          tx.ID,
		UserID:      userID,
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Description: tx.Description,
		Category:    tx.Category,
		AccountID:   tx.AccountID,
		Date:        tx.Date.UTC(),
	}
}

func (r transactionRow) toCore() core.Transaction {
	return core.Transaction{
		ID:          r.ID,
		Type:        core.TransactionType(r.Type),
		Amount:      r.Amount,
		Description: r.Description,
		Category:    r.Category,
		AccountID:   r.AccountID,
		Date:        r.Date,
	}
}

func toAccountRow(userID string, pos int, a core.Account) accountRow {
	return accountRow{
		ID:       a.ID,
		UserID:   userID,
		Name:     a.Name,
		Balance:  a.Balance,
		Icon:     string(a.Icon),
		Version:  a.Version,
		Position: pos,
	}
}

func (r accountRow) toCore() core.Account {
	return core.Account{
		ID:      r.ID,
		Name:    r.Name,
		Balance: r.Balance,
		Icon:    core.AccountIcon(r.Icon),
		Version: r.Version,
	}
}
