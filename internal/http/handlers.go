package http

import (
	"net/http"

	"finlux/internal/core"
	"finlux/internal/ledger"
	"finlux/internal/log"
)

type transactionList struct {
	Transactions []core.Transaction `json:"transactions"`
	Count        int                `json:"count"`
}

type accountView struct {
	core.Account
	Display string `json:"display"`
}

type summaryView struct {
	core.Aggregates
	Currency   string                `json:"currency"`
	Display    map[string]string     `json:"display"`
	Categories []core.CategoryAmount `json:"categories"`
}

// engine resolves the current ledger or writes the error response.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*ledger.Engine, bool) {
	e, err := s.sessions.Engine()
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "No ledger engine available", log.FieldError, err)
		ErrorFor(err).Write(w)
		return nil, false
	}
	return e, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := core.Classify(err)
	logger := log.FromContext(r.Context())
	fields := log.NewFields().WithOperation(op).WithError(err).WithErrorType(string(kind)).ToSlice()
	if StatusForKind(kind) >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Ledger operation failed", fields...)
	} else {
		logger.InfoContext(r.Context(), "Ledger operation rejected", fields...)
	}
	ErrorFor(err).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	params, err := ParseListParams(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	txs := params.Apply(e.Transactions())
	NewJSONResponse().Body(transactionList{Transactions: txs, Count: len(txs)}).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	tx, found := e.Transaction(r.PathValue("id"))
	if !found {
		NotFoundError("transaction not found").Write(w)
		return
	}
	NewJSONResponse().Body(tx).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeJSON(w, r, s.maxBody, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	draft, err := req.Draft(idempotencyKey(r.Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	tx, err := e.Add(r.Context(), draft)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+tx.ID).
		Body(tx).
		Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeJSON(w, r, s.maxBody, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	draft, err := req.Draft(idempotencyKey(r.Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	tx, err := e.Update(r.Context(), r.PathValue("id"), draft)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(tx).Write(w)
}

// handleDeleteTransaction answers 200 with the removed transaction, or 204
// when the id was unknown (deleting is idempotent).
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	tx, err := e.DeleteWithKey(r.Context(), r.PathValue("id"), idempotencyKey(r.Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	if tx.ID == "" {
		NewJSONResponse().Status(http.StatusNoContent).Write(w)
		return
	}
	NewJSONResponse().Body(tx).Write(w)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	accounts := e.Accounts()
	views := make([]accountView, len(accounts))
	for i, a := range accounts {
		views[i] = accountView{Account: a, Display: a.Balance.Format(s.currency)}
	}
	NewJSONResponse().Body(map[string]any{"accounts": views}).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	agg := e.Aggregates()
	NewJSONResponse().Body(summaryView{
		Aggregates: agg,
		Currency:   s.currency,
		Display: map[string]string{
			"totalBalance": agg.TotalBalance.Format(s.currency),
			"totalIncome":  agg.TotalIncome.Format(s.currency),
			"totalExpense": agg.TotalExpense.Format(s.currency),
		},
		Categories: e.CategoryBreakdown(),
	}).Write(w)
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Body(map[string]any{"budgets": e.Budgets(nil)}).Write(w)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	d := e.Verify()
	if d == nil {
		d = []ledger.Discrepancy{}
	}
	NewJSONResponse().Body(map[string]any{"consistent": len(d) == 0, "discrepancies": d}).Write(w)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := e.Reset(r.Context()); err != nil {
		s.fail(w, r, log.OpReset, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.sessions.Info()).Write(w)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeJSON(w, r, s.maxBody, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.sessions.SignIn(r.Context(), sanitizeInput(req.UserID)); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Sign in failed",
			log.NewFields().WithOperation(log.OpSignIn).WithError(err).ToSlice()...)
		ErrorFor(err).Write(w)
		return
	}
	NewJSONResponse().Body(s.sessions.Info()).Write(w)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.SignOut(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Sign out failed",
			log.NewFields().WithOperation(log.OpSignOut).WithError(err).ToSlice()...)
		ErrorFor(err).Write(w)
		return
	}
	NewJSONResponse().Body(s.sessions.Info()).Write(w)
}
