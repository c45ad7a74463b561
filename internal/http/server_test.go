package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"finlux/internal/backend"
	"finlux/internal/core"
	"finlux/internal/middleware/ratelimit"
	"finlux/internal/session"
	"finlux/internal/storage/memory"
)

type fakeFactory struct {
	mu      sync.Mutex
	local   *memory.Store
	remotes map[string]*memory.Store
}

func (f *fakeFactory) NewLocal(context.Context) (backend.Adapter, error) { return f.local, nil }

func (f *fakeFactory) NewRemote(_ context.Context, userID string) (backend.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.remotes[userID]
	if !ok {
		s = memory.New(core.Snapshot{})
		f.remotes[userID] = s
	}
	return s, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	m := session.NewManager(&fakeFactory{local: memory.New(core.Snapshot{}), remotes: map[string]*memory.Store{}}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	srv := NewServer(":0", m, Options{RateLimit: ratelimit.Config{RequestsPerMinute: 1000, ExemptSafeMethods: true}})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func balance(t *testing.T, srv *Server, account string) int64 {
	t.Helper()
	rr := do(t, srv, http.MethodGet, "/api/accounts", "")
	body := decode[struct {
		Accounts []core.Account `json:"accounts"`
	}](t, rr)
	for _, a := range body.Accounts {
		if a.ID == account {
			return a.Balance.Cents
		}
	}
	t.Fatalf("account %s not found", account)
	return 0
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestReadyBeforeStart(t *testing.T) {
	m := session.NewManager(&fakeFactory{local: memory.New(core.Snapshot{}), remotes: map[string]*memory.Store{}}, nil)
	srv := NewServer(":0", m, Options{})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	if rr := do(t, srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/accounts", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("accounts status=%d, want 503", rr.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/transactions",
		`{"type":"income","amount":"1000","description":"Salary","category":"Work","accountId":"bank"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body)
	}
	created := decode[core.Transaction](t, rr)
	if created.ID == "" || rr.Header().Get("Location") != "/api/transactions/"+created.ID {
		t.Fatalf("created = %+v, location = %q", created, rr.Header().Get("Location"))
	}
	if got := balance(t, srv, "bank"); got != 100000 {
		t.Fatalf("bank balance = %d, want 100000", got)
	}

	rr = do(t, srv, http.MethodPut, "/api/transactions/"+created.ID,
		`{"type":"income","amount":800,"description":"Salary","category":"Work","accountId":"cash"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body)
	}
	if b, c := balance(t, srv, "bank"), balance(t, srv, "cash"); b != 0 || c != 80000 {
		t.Fatalf("after move bank=%d cash=%d", b, c)
	}

	rr = do(t, srv, http.MethodGet, "/api/transactions/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}

	rr = do(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if got := balance(t, srv, "cash"); got != 0 {
		t.Fatalf("cash after delete = %d", got)
	}

	rr = do(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("second delete status=%d, want 204", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/transactions/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted status=%d", rr.Code)
	}
}

func TestCreateErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"type":"income","bogus":1}`, http.StatusBadRequest, "bad_request"},
		{"empty body", ``, http.StatusBadRequest, "bad_request"},
		{"zero amount", `{"type":"expense","amount":"abc","description":"x","accountId":"cash"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"bad type", `{"type":"gift","amount":5,"description":"x","accountId":"cash"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown account", `{"type":"expense","amount":5,"description":"x","accountId":"nope"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"bad date", `{"type":"expense","amount":5,"description":"x","accountId":"cash","date":"yesterday"}`, http.StatusUnprocessableEntity, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/transactions", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d, want %d (body %s)", rr.Code, tt.status, rr.Body)
			}
			body := decode[ErrorBody](t, rr)
			if body.Error.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", body.Error.Kind, tt.kind)
			}
		})
	}

	if got := balance(t, srv, "cash"); got != 0 {
		t.Errorf("rejected requests changed cash balance to %d", got)
	}
}

func TestUpdateUnknown(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodPut, "/api/transactions/missing",
		`{"type":"expense","amount":5,"description":"x","accountId":"cash"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
}

func TestIdempotentCreate(t *testing.T) {
	srv := newTestServer(t)
	body := `{"type":"expense","amount":"12,50","description":"Lunch","category":"Comida","accountId":"cash"}`

	first := do(t, srv, http.MethodPost, "/api/transactions", body, HeaderIdempotencyKey, "key-1")
	second := do(t, srv, http.MethodPost, "/api/transactions", body, HeaderIdempotencyKey, "key-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("status %d / %d", first.Code, second.Code)
	}
	if a, b := decode[core.Transaction](t, first), decode[core.Transaction](t, second); a.ID != b.ID {
		t.Fatalf("replay created a second transaction: %s vs %s", a.ID, b.ID)
	}
	if got := balance(t, srv, "cash"); got != -1250 {
		t.Fatalf("cash = %d, want -1250", got)
	}
}

func TestListFilters(t *testing.T) {
	srv := newTestServer(t)
	for _, body := range []string{
		`{"type":"income","amount":100,"description":"a","category":"Work","accountId":"bank"}`,
		`{"type":"expense","amount":10,"description":"b","category":"Comida","accountId":"cash"}`,
		`{"type":"expense","amount":20,"description":"c","category":"Ocio","accountId":"cash"}`,
	} {
		if rr := do(t, srv, http.MethodPost, "/api/transactions", body); rr.Code != http.StatusCreated {
			t.Fatalf("seed status=%d body=%s", rr.Code, rr.Body)
		}
	}

	tests := []struct {
		query string
		count int
	}{
		{"", 3},
		{"?type=expense", 2},
		{"?account=bank", 1},
		{"?category=comida", 1},
		{"?type=expense&limit=1", 1},
	}
	for _, tt := range tests {
		rr := do(t, srv, http.MethodGet, "/api/transactions"+tt.query, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", tt.query, rr.Code)
		}
		if got := decode[transactionList](t, rr).Count; got != tt.count {
			t.Errorf("%q count = %d, want %d", tt.query, got, tt.count)
		}
	}

	if rr := do(t, srv, http.MethodGet, "/api/transactions?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status=%d", rr.Code)
	}
}

func TestSummaryBudgetsVerify(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/transactions", `{"type":"income","amount":500,"description":"pay","accountId":"bank"}`)
	do(t, srv, http.MethodPost, "/api/transactions", `{"type":"expense","amount":250,"description":"food","category":"Comida","accountId":"cash"}`)

	summary := decode[summaryView](t, do(t, srv, http.MethodGet, "/api/summary", ""))
	if summary.TotalBalance.Cents != 25000 || summary.TotalIncome.Cents != 50000 || summary.TotalExpense.Cents != 25000 {
		t.Errorf("summary = %+v", summary.Aggregates)
	}
	if summary.Display["totalBalance"] != "$250.00" {
		t.Errorf("display = %v", summary.Display)
	}

	budgets := decode[struct {
		Budgets []core.BudgetStatus `json:"budgets"`
	}](t, do(t, srv, http.MethodGet, "/api/budgets", ""))
	found := false
	for _, b := range budgets.Budgets {
		if b.Category == "Comida" {
			found = true
			if !b.Over || b.Percent != 100 {
				t.Errorf("Comida budget = %+v", b)
			}
		}
	}
	if !found {
		t.Error("Comida budget missing")
	}

	verify := decode[struct {
		Consistent bool `json:"consistent"`
	}](t, do(t, srv, http.MethodGet, "/api/verify", ""))
	if !verify.Consistent {
		t.Error("ledger should be consistent")
	}
}

func TestReset(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/transactions", `{"type":"income","amount":5,"description":"x","accountId":"cash"}`)

	if rr := do(t, srv, http.MethodPost, "/api/reset", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("reset status=%d", rr.Code)
	}
	if got := decode[transactionList](t, do(t, srv, http.MethodGet, "/api/transactions", "")).Count; got != 0 {
		t.Errorf("transactions after reset = %d", got)
	}
	if got := balance(t, srv, "cash"); got != 0 {
		t.Errorf("cash after reset = %d", got)
	}
}

func TestSessionSwitch(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/transactions", `{"type":"income","amount":5,"description":"guest","accountId":"cash"}`)

	if rr := do(t, srv, http.MethodPost, "/api/session/signout", ""); rr.Code != http.StatusConflict {
		t.Fatalf("signout as guest status=%d, want 409", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/session/signin", `{"userId":""}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("signin without user status=%d, want 422", rr.Code)
	}

	rr := do(t, srv, http.MethodPost, "/api/session/signin", `{"userId":"u1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("signin status=%d body=%s", rr.Code, rr.Body)
	}
	if info := decode[session.Info](t, rr); info.State != session.StateAuthenticated || info.UserID != "u1" {
		t.Fatalf("info = %+v", info)
	}
	// Guest data is not merged into the user's ledger.
	if got := decode[transactionList](t, do(t, srv, http.MethodGet, "/api/transactions", "")).Count; got != 0 {
		t.Errorf("authenticated ledger has %d transactions, want 0", got)
	}

	if rr := do(t, srv, http.MethodPost, "/api/session/signout", ""); rr.Code != http.StatusOK {
		t.Fatalf("signout status=%d", rr.Code)
	}
	if got := decode[transactionList](t, do(t, srv, http.MethodGet, "/api/transactions", "")).Count; got != 1 {
		t.Errorf("guest ledger after signout has %d transactions, want 1", got)
	}
	if info := decode[session.Info](t, do(t, srv, http.MethodGet, "/api/session", "")); info.State != session.StateGuest {
		t.Errorf("info after signout = %+v", info)
	}
}

func TestMiddlewareChain(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodGet, "/api/accounts", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}

	if rr := do(t, srv, http.MethodGet, "/api/transactions?file=../../etc/passwd", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("suspicious request status=%d, want 400", rr.Code)
	}
	if got := srv.Metrics()["blocked_requests"]; got != 1 {
		t.Errorf("blocked_requests = %d", got)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	m := session.NewManager(&fakeFactory{local: memory.New(core.Snapshot{}), remotes: map[string]*memory.Store{}}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	srv := NewServer(":0", m, Options{RateLimit: ratelimit.Config{RequestsPerMinute: 1, ExemptSafeMethods: true}})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	body := `{"type":"income","amount":5,"description":"x","accountId":"cash"}`
	if rr := do(t, srv, http.MethodPost, "/api/transactions", body); rr.Code != http.StatusCreated {
		t.Fatalf("first status=%d", rr.Code)
	}
	rr := do(t, srv, http.MethodPost, "/api/transactions", body)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("second status=%d retry=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if rr := do(t, srv, http.MethodGet, "/api/transactions", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, status=%d", rr.Code)
	}
}
