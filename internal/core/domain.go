package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	IconWallet    AccountIcon = "Wallet"
	IconLandmark  AccountIcon = "Landmark"
	IconPiggyBank AccountIcon = "PiggyBank"

	// DefaultCategory is assigned to drafts submitted without a category.
	DefaultCategory = "General"

	maxDescriptionLen = 200
)

type (
	TransactionType string

	AccountIcon string

	Account struct {
		ID      string      `json:"id"`
		Name    string      `json:"name"`
		Balance Money       `json:"balance"`
		Icon    AccountIcon `json:"icon"`
		// Version is bumped on every balance write and checked by remote
		// adapters before they overwrite a balance.
		Version int64 `json:"version"`
	}

	Transaction struct {
		ID          string          `json:"id"`
		Type        TransactionType `json:"type"`
		Amount      Money           `json:"amount"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		AccountID   string          `json:"accountId"`
		Date        time.Time       `json:"date"`
	}

	// Draft is the user-supplied field set for add and update.
	Draft struct {
		Type        TransactionType
		Amount      Money
		Description string
		Category    string
		AccountID   string
		// Date is optional; zero means "now" on add and "keep" on update.
		Date time.Time
		// IdempotencyKey lets callers retry a mutation without applying it twice.
		IdempotencyKey string
	}

	// Snapshot is the full content of the transaction and account stores.
	Snapshot struct {
		Transactions []Transaction `json:"transactions"`
		Accounts     []Account     `json:"accounts"`
	}

	// BalanceAdjustment is a signed change to one account balance.
	BalanceAdjustment struct {
		AccountID       string
		Delta           Money
		ExpectedVersion int64
	}
)

// IsValid reports whether t is a known transaction type.
func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense:
		return true
	default:
		return false
	}
}

// Sign is +1 for income and -1 for expense.
func (t TransactionType) Sign() int64 {
	if t == Expense {
		return -1
	}
	return 1
}

// Signed returns the effect of an amount of this type on an account balance.
func (t TransactionType) Signed(m Money) Money {
	return Money{Cents: m.Cents * t.Sign()}
}

// Effect is the signed contribution of the transaction to its account.
func (tx Transaction) Effect() Money {
	return tx.Type.Signed(tx.Amount)
}

// DefaultAccounts returns the accounts every new partition starts with.
func DefaultAccounts() []Account {
	return []Account{
		{ID: "cash", Name: "Cash", Icon: IconWallet},
		{ID: "bank", Name: "Bank", Icon: IconLandmark},
		{ID: "savings", Name: "Savings", Icon: IconPiggyBank},
	}
}

// Normalize trims free text and applies the default category.
func (d Draft) Normalize() Draft {
	d.Type = TransactionType(strings.ToLower(strings.TrimSpace(string(d.Type))))
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.TrimSpace(d.Category)
	d.AccountID = strings.TrimSpace(d.AccountID)
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	return d
}

// Validate checks the draft before any store is touched. Every failure wraps
// ErrValidation.
func (d Draft) Validate() error {
	var errs []error
	if !d.Type.IsValid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidType, d.Type))
	}
	if err := d.Amount.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(d.Description) == "" {
		errs = append(errs, ErrEmptyDescription)
	} else if utf8.RuneCountInString(d.Description) > maxDescriptionLen {
		errs = append(errs, ErrDescriptionTooLong)
	}
	if strings.TrimSpace(d.AccountID) == "" {
		errs = append(errs, ErrMissingAccount)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}

// Apply returns tx with every field except the id replaced by the draft.
func (d Draft) Apply(tx Transaction) Transaction {
	tx.Type = d.Type
	tx.Amount = d.Amount
	tx.Description = d.Description
	tx.Category = d.Category
	tx.AccountID = d.AccountID
	if !d.Date.IsZero() {
		tx.Date = d.Date
	}
	return tx
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Transactions: make([]Transaction, len(s.Transactions)),
		Accounts:     make([]Account, len(s.Accounts)),
	}
	copy(out.Transactions, s.Transactions)
	copy(out.Accounts, s.Accounts)
	return out
}

// TransactionIndex returns the position of the transaction with id, or -1.
func (s Snapshot) TransactionIndex(id string) int {
	for i, tx := range s.Transactions {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

// AccountIndex returns the position of the account with id, or -1.
func (s Snapshot) AccountIndex(id string) int {
	for i, a := range s.Accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}
