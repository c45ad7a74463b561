// Package http provides the JSON API over the ledger session.
//
// This file implements utilities for parsing and validating request data:
// JSON bodies with a size cap, free-form amounts and list filters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finlux/internal/core"
)

// FlexibleAmount accepts a JSON number or a string such as "12,34".
// Anything non-numeric decodes to zero and is rejected by validation.
type FlexibleAmount core.Money

func (a *FlexibleAmount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = FlexibleAmount{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	*a = FlexibleAmount(core.ParseAmount(raw))
	return nil
}

// TransactionRequest is the body of create and update calls.
type TransactionRequest struct {
	Type        string         `json:"type"`
	Amount      FlexibleAmount `json:"amount"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	AccountID   string         `json:"accountId"`
	// Date is optional: YYYY-MM-DD or RFC 3339.
	Date string `json:"date"`
}

// Draft converts the request into an engine draft.
func (req TransactionRequest) Draft(idempotencyKey string) (core.Draft, error) {
	d := core.Draft{
		Type:           core.TransactionType(req.Type),
		Amount:         core.Money(req.Amount),
		Description:    sanitizeInput(req.Description),
		Category:       sanitizeInput(req.Category),
		AccountID:      sanitizeInput(req.AccountID),
		IdempotencyKey: idempotencyKey,
	}
	if s := strings.TrimSpace(req.Date); s != "" {
		t, err := parseDate(s)
		if err != nil {
			return core.Draft{}, fmt.Errorf("%w: invalid date %q", core.ErrValidation, s)
		}
		d.Date = t
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// SignInRequest is the body of POST /api/session/signin.
type SignInRequest struct {
	UserID string `json:"userId"`
}

// decodeJSON reads a single JSON object of at most maxBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("invalid JSON body: %w", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// ListParams filters GET /api/transactions.
type ListParams struct {
	Type      core.TransactionType
	AccountID string
	Category  string
	// Limit of 0 means no limit.
	Limit int
}

// ParseListParams reads type, account, category and limit from the query.
func ParseListParams(query url.Values) (ListParams, error) {
	p := ListParams{
		AccountID: strings.TrimSpace(query.Get("account")),
		Category:  strings.TrimSpace(query.Get("category")),
	}
	if v := strings.ToLower(strings.TrimSpace(query.Get("type"))); v != "" {
		p.Type = core.TransactionType(v)
		if !p.Type.IsValid() {
			return ListParams{}, fmt.Errorf("invalid type %q", v)
		}
	}
	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ListParams{}, fmt.Errorf("invalid limit %q", v)
		}
		p.Limit = n
	}
	return p, nil
}

// Apply returns the matching transactions, keeping their order.
func (p ListParams) Apply(txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if p.Type != "" && tx.Type != p.Type {
			continue
		}
		if p.AccountID != "" && tx.AccountID != p.AccountID {
			continue
		}
		if p.Category != "" && !strings.EqualFold(tx.Category, p.Category) {
			continue
		}
		out = append(out, tx)
		if p.Limit > 0 && len(out) == p.Limit {
			break
		}
	}
	return out
}
