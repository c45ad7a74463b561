package cli

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"

	"finlux/internal/cache"
	"finlux/internal/core"
	"finlux/internal/ledger"
	"finlux/internal/storage"
	"finlux/internal/storage/memory"
)

type harness struct {
	store *memory.Store
	out   bytes.Buffer
	err   bytes.Buffer
	seq   int
	idem  *cache.LRUCache[core.Transaction]
}

func newHarness() *harness {
	return &harness{
		store: memory.New(core.Snapshot{}),
		idem:  ledger.NewIdempotencyCache(time.Minute),
	}
}

func (h *harness) env() *Env {
	return &Env{
		Open: func(ctx context.Context) (*ledger.Engine, func(), error) {
			e := ledger.New(h.store,
				ledger.WithIdempotencyCache(h.idem),
				ledger.WithIDGenerator(func() string {
					h.seq++
					return fmt.Sprintf("tx%d", h.seq)
				}))
			if err := e.Load(ctx); err != nil {
				return nil, nil, err
			}
			return e, func() { _ = e.Close() }, nil
		},
		Out:      &h.out,
		Err:      &h.err,
		Currency: "USD",
	}
}

func (h *harness) run(t *testing.T, args ...string) subcommands.ExitStatus {
	t.Helper()
	h.out.Reset()
	h.err.Reset()
	fs := flag.NewFlagSet("finlux-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmdr := subcommands.NewCommander(fs, "finlux-cli")
	cmdr.Output = io.Discard
	cmdr.Error = io.Discard
	for _, c := range Commands(h.env()) {
		cmdr.Register(c, "")
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return cmdr.Execute(context.Background())
}

func (h *harness) balance(t *testing.T, id string) int64 {
	t.Helper()
	snap, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, a := range snap.Accounts {
		if a.ID == id {
			return a.Balance.Cents
		}
	}
	t.Fatalf("account %s not found", id)
	return 0
}

func TestAddEditRemove(t *testing.T) {
	h := newHarness()

	if st := h.run(t, "add", "-type", "income", "-amount", "1000", "-desc", "Salary", "-account", "bank"); st != subcommands.ExitSuccess {
		t.Fatalf("add exit = %v, stderr = %s", st, h.err.String())
	}
	if !strings.Contains(h.out.String(), "added tx1") {
		t.Errorf("add output = %q", h.out.String())
	}
	if got := h.balance(t, "bank"); got != 100000 {
		t.Fatalf("bank = %d, want 100000", got)
	}

	if st := h.run(t, "edit", "-amount", "800,50", "-account", "cash", "tx1"); st != subcommands.ExitSuccess {
		t.Fatalf("edit exit = %v, stderr = %s", st, h.err.String())
	}
	if got := h.balance(t, "bank"); got != 0 {
		t.Errorf("bank after edit = %d, want 0", got)
	}
	if got := h.balance(t, "cash"); got != 80050 {
		t.Errorf("cash after edit = %d, want 80050", got)
	}

	h.run(t, "ls")
	if !strings.Contains(h.out.String(), "Salary") || !strings.Contains(h.out.String(), "$800.50") {
		t.Errorf("ls output = %q", h.out.String())
	}

	if st := h.run(t, "rm", "tx1", "missing"); st != subcommands.ExitSuccess {
		t.Fatalf("rm exit = %v, stderr = %s", st, h.err.String())
	}
	if !strings.Contains(h.out.String(), "skipped missing") {
		t.Errorf("rm output = %q", h.out.String())
	}
	if got := h.balance(t, "cash"); got != 0 {
		t.Errorf("cash after rm = %d, want 0", got)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want subcommands.ExitStatus
	}{
		{"edit without id", []string{"edit", "-amount", "5"}, subcommands.ExitUsageError},
		{"rm without id", []string{"rm"}, subcommands.ExitUsageError},
		{"rm key with many ids", []string{"rm", "-key", "k", "a", "b"}, subcommands.ExitUsageError},
		{"ls bad type", []string{"ls", "-type", "gift"}, subcommands.ExitUsageError},
		{"reset without yes", []string{"reset"}, subcommands.ExitUsageError},
		{"add bad date", []string{"add", "-type", "expense", "-amount", "5", "-desc", "x", "-account", "cash", "-date", "yesterday"}, subcommands.ExitUsageError},
		{"add invalid draft", []string{"add", "-type", "expense", "-amount", "0", "-desc", "x", "-account", "cash"}, subcommands.ExitFailure},
		{"add unknown account", []string{"add", "-type", "expense", "-amount", "5", "-desc", "x", "-account", "wallet"}, subcommands.ExitFailure},
		{"edit missing", []string{"edit", "-amount", "5", "nope"}, subcommands.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if got := h.run(t, tt.args...); got != tt.want {
				t.Errorf("exit = %v, want %v (stderr %q)", got, tt.want, h.err.String())
			}
		})
	}
}

func TestAddIsIdempotentWithKey(t *testing.T) {
	h := newHarness()
	args := []string{"add", "-type", "expense", "-amount", "20", "-desc", "Lunch", "-account", "cash", "-key", "lunch-1"}
	h.run(t, args...)
	h.run(t, args...)
	if !strings.Contains(h.out.String(), "added tx1") {
		t.Errorf("replay output = %q, want the first id", h.out.String())
	}
	if got := h.balance(t, "cash"); got != -2000 {
		t.Errorf("cash = %d, want -2000", got)
	}
}

// Every Open builds a fresh store and engine on the same sqlite file, the
// way separate finlux-cli invocations do.
func TestAddKeyReplaysAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.db")
	var out, errOut bytes.Buffer
	env := &Env{
		Open: func(ctx context.Context) (*ledger.Engine, func(), error) {
			store, err := storage.NewKVStore(path, nil)
			if err != nil {
				return nil, nil, err
			}
			e := ledger.New(store)
			if err := e.Load(ctx); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
			return e, func() { _ = e.Close() }, nil
		},
		Out: &out, Err: &errOut, Currency: "USD",
	}
	run := func(args ...string) string {
		t.Helper()
		out.Reset()
		fs := flag.NewFlagSet("finlux-cli", flag.ContinueOnError)
		cmdr := subcommands.NewCommander(fs, "finlux-cli")
		cmdr.Output, cmdr.Error = io.Discard, io.Discard
		for _, c := range Commands(env) {
			cmdr.Register(c, "")
		}
		if err := fs.Parse(args); err != nil {
			t.Fatalf("parse %v: %v", args, err)
		}
		if st := cmdr.Execute(context.Background()); st != subcommands.ExitSuccess {
			t.Fatalf("%v exit = %v, stderr = %s", args, st, errOut.String())
		}
		return out.String()
	}

	args := []string{"add", "-type", "expense", "-amount", "20", "-desc", "Lunch", "-account", "cash", "-key", "lunch-1"}
	first := run(args...)
	second := run(args...)
	if first == "" || first != second {
		t.Errorf("retry output = %q, want %q", second, first)
	}

	run("ls")
	if n := strings.Count(out.String(), "Lunch"); n != 1 {
		t.Errorf("ls shows %d Lunch rows, want 1: %q", n, out.String())
	}
}

func TestSummaryBudgetsVerify(t *testing.T) {
	h := newHarness()
	h.run(t, "add", "-type", "income", "-amount", "500", "-desc", "Pay", "-account", "bank")
	h.run(t, "add", "-type", "expense", "-amount", "250", "-desc", "Groceries", "-category", "Comida", "-account", "bank")

	if st := h.run(t, "summary"); st != subcommands.ExitSuccess {
		t.Fatalf("summary exit = %v", st)
	}
	for _, want := range []string{"Bank", "$250.00", "Total income", "$500.00", "Comida"} {
		if !strings.Contains(h.out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, h.out.String())
		}
	}

	h.run(t, "budgets")
	if !strings.Contains(h.out.String(), "over by $50.00") {
		t.Errorf("budgets output = %q", h.out.String())
	}

	if st := h.run(t, "verify"); st != subcommands.ExitSuccess {
		t.Errorf("verify exit = %v, out = %q", st, h.out.String())
	}
}

func TestReset(t *testing.T) {
	h := newHarness()
	h.run(t, "add", "-type", "expense", "-amount", "5", "-desc", "Coffee", "-account", "cash")

	if st := h.run(t, "reset", "-yes"); st != subcommands.ExitSuccess {
		t.Fatalf("reset exit = %v, stderr = %s", st, h.err.String())
	}
	snap, _ := h.store.Load(context.Background())
	if len(snap.Transactions) != 0 || len(snap.Accounts) != len(core.DefaultAccounts()) {
		t.Errorf("after reset: %+v", snap)
	}
}
