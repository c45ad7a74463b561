package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"finlux/internal/core"
	"finlux/internal/ledger"
)

// Opener returns a loaded engine and the func that releases it.
type Opener func(ctx context.Context) (*ledger.Engine, func(), error)

// Env is what every command runs against.
type Env struct {
	Open     Opener
	Out      io.Writer
	Err      io.Writer
	Currency string
}

// Commands returns the ledger subcommands bound to env.
func Commands(env *Env) []subcommands.Command {
	return []subcommands.Command{
		&addCmd{env: env},
		&editCmd{env: env},
		&rmCmd{env: env},
		&lsCmd{env: env},
		&summaryCmd{env: env},
		&budgetsCmd{env: env},
		&verifyCmd{env: env},
		&resetCmd{env: env},
	}
}

// run opens the engine, calls fn and maps its error to an exit status.
func (env *Env) run(ctx context.Context, fn func(*ledger.Engine) error) subcommands.ExitStatus {
	engine, release, err := env.Open(ctx)
	if err != nil {
		fmt.Fprintf(env.Err, "Error: open ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer release()

	if err := fn(engine); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(env.Err, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		fmt.Fprintf(env.Err, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (env *Env) money(m core.Money) string {
	if env.Currency == "" {
		return m.String()
	}
	return m.Format(env.Currency)
}

type usageError string

func (e usageError) Error() string { return string(e) }

// draftFlags are shared by add and edit.
type draftFlags struct {
	typ         string
	amount      string
	description string
	category    string
	account     string
	date        string
	key         string
}

func (d *draftFlags) register(f *flag.FlagSet) {
	f.StringVar(&d.typ, "type", "", "Transaction type: income or expense.")
	f.StringVar(&d.amount, "amount", "", "Amount in major units, e.g. 12.50 or 12,50.")
	f.StringVar(&d.description, "desc", "", "Description.")
	f.StringVar(&d.category, "category", "", "Category. Defaults to General on add.")
	f.StringVar(&d.account, "account", "", "Account id (cash, bank, savings).")
	f.StringVar(&d.date, "date", "", "Date as YYYY-MM-DD. Defaults to now on add.")
	f.StringVar(&d.key, "key", "", "Idempotency key for safe retries.")
}

// overlay applies the flags that were set on top of base.
func (d *draftFlags) overlay(base core.Draft) (core.Draft, error) {
	if d.typ != "" {
		base.Type = core.TransactionType(d.typ)
	}
	if d.amount != "" {
		base.Amount = core.ParseAmount(d.amount)
	}
	if d.description != "" {
		base.Description = d.description
	}
	if d.category != "" {
		base.Category = d.category
	}
	if d.account != "" {
		base.AccountID = d.account
	}
	if d.date != "" {
		t, err := time.Parse("2006-01-02", d.date)
		if err != nil {
			return core.Draft{}, usageError(fmt.Sprintf("invalid -date %q: want YYYY-MM-DD", d.date))
		}
		base.Date = t
	}
	base.IdempotencyKey = d.key
	return base, nil
}

type addCmd struct {
	env *Env
	draftFlags
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record an income or expense" }
func (*addCmd) Usage() string {
	return `finlux-cli add -type <income|expense> -amount <n> -desc <text> -account <id> [-category <c>] [-date <YYYY-MM-DD>] [-key <k>]

  Adds a transaction and applies it to the account balance.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.env.run(ctx, func(e *ledger.Engine) error {
		d, err := c.overlay(core.Draft{})
		if err != nil {
			return err
		}
		tx, err := e.Add(ctx, d)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.env.Out, "added %s\n", tx.ID)
		return nil
	})
}

type editCmd struct {
	env *Env
	draftFlags
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "change fields of a transaction" }
func (*editCmd) Usage() string {
	return `finlux-cli edit [flags] <id>

  Updates the transaction. Fields whose flag is not given keep their value.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *editCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(c.env.Err, "Error: edit takes exactly one transaction id.")
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)
	return c.env.run(ctx, func(e *ledger.Engine) error {
		current, ok := e.Transaction(id)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		d, err := c.overlay(core.Draft{
			Type:        current.Type,
			Amount:      current.Amount,
			Description: current.Description,
			Category:    current.Category,
			AccountID:   current.AccountID,
		})
		if err != nil {
			return err
		}
		tx, err := e.Update(ctx, id, d)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.env.Out, "updated %s\n", tx.ID)
		return nil
	})
}

type rmCmd struct {
	env *Env
	key string
}

func (*rmCmd) Name() string     { return "rm" }
func (*rmCmd) Synopsis() string { return "delete transactions" }
func (*rmCmd) Usage() string {
	return `finlux-cli rm [-key <k>] <id>...

  Deletes transactions and reverses their effect. Unknown ids are ignored.
`
}

func (c *rmCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.key, "key", "", "Idempotency key. Only valid with a single id.")
}

func (c *rmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ids := f.Args()
	if len(ids) == 0 {
		fmt.Fprintln(c.env.Err, "Error: rm needs at least one transaction id.")
		return subcommands.ExitUsageError
	}
	if c.key != "" && len(ids) > 1 {
		fmt.Fprintln(c.env.Err, "Error: -key cannot be used with several ids.")
		return subcommands.ExitUsageError
	}
	return c.env.run(ctx, func(e *ledger.Engine) error {
		for _, id := range ids {
			tx, err := e.DeleteWithKey(ctx, id, c.key)
			if err != nil {
				return err
			}
			if tx.ID == "" {
				fmt.Fprintf(c.env.Out, "skipped %s (not found)\n", id)
				continue
			}
			fmt.Fprintf(c.env.Out, "deleted %s\n", id)
		}
		return nil
	})
}

type lsCmd struct {
	env      *Env
	typ      string
	account  string
	category string
	head     int
}

func (*lsCmd) Name() string     { return "ls" }
func (*lsCmd) Synopsis() string { return "list transactions, newest first" }
func (*lsCmd) Usage() string {
	return `finlux-cli ls [-type <t>] [-account <id>] [-category <c>] [-head <n>]
`
}

func (c *lsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.typ, "type", "", "Only income or expense.")
	f.StringVar(&c.account, "account", "", "Only this account.")
	f.StringVar(&c.category, "category", "", "Only this category (case-insensitive).")
	f.IntVar(&c.head, "head", 0, "Show only the first N transactions.")
}

func (c *lsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.head < 0 {
		fmt.Fprintln(c.env.Err, "Error: -head must not be negative.")
		return subcommands.ExitUsageError
	}
	typ := core.TransactionType(strings.ToLower(c.typ))
	if typ != "" && !typ.IsValid() {
		fmt.Fprintf(c.env.Err, "Error: invalid -type %q.\n", c.typ)
		return subcommands.ExitUsageError
	}
	return c.env.run(ctx, func(e *ledger.Engine) error {
		w := tabwriter.NewWriter(c.env.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATE\tTYPE\tACCOUNT\tCATEGORY\tAMOUNT\tDESCRIPTION")
		n := 0
		for _, tx := range e.Transactions() {
			if typ != "" && tx.Type != typ {
				continue
			}
			if c.account != "" && tx.AccountID != c.account {
				continue
			}
			if c.category != "" && !strings.EqualFold(tx.Category, c.category) {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				tx.ID, tx.Date.Format("2006-01-02"), tx.Type, tx.AccountID,
				tx.Category, c.env.money(tx.Effect()), tx.Description)
			n++
			if c.head > 0 && n == c.head {
				break
			}
		}
		return w.Flush()
	})
}

type summaryCmd struct{ env *Env }

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show balances, totals and spending by category" }
func (*summaryCmd) Usage() string    { return "finlux-cli summary\n" }

func (*summaryCmd) SetFlags(*flag.FlagSet) {}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.env.run(ctx, func(e *ledger.Engine) error {
		w := tabwriter.NewWriter(c.env.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tBALANCE")
		for _, a := range e.Accounts() {
			fmt.Fprintf(w, "%s\t%s\n", a.Name, c.env.money(a.Balance))
		}
		agg := e.Aggregates()
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Total balance\t%s\n", c.env.money(agg.TotalBalance))
		fmt.Fprintf(w, "Total income\t%s\n", c.env.money(agg.TotalIncome))
		fmt.Fprintf(w, "Total expense\t%s\n", c.env.money(agg.TotalExpense))

		if cats := e.CategoryBreakdown(); len(cats) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "CATEGORY\tSPENT")
			for _, ca := range cats {
				fmt.Fprintf(w, "%s\t%s\n", ca.Category, c.env.money(ca.Amount))
			}
		}
		return w.Flush()
	})
}

type budgetsCmd struct{ env *Env }

func (*budgetsCmd) Name() string     { return "budgets" }
func (*budgetsCmd) Synopsis() string { return "compare spending with the category budgets" }
func (*budgetsCmd) Usage() string    { return "finlux-cli budgets\n" }

func (*budgetsCmd) SetFlags(*flag.FlagSet) {}

func (c *budgetsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.env.run(ctx, func(e *ledger.Engine) error {
		w := tabwriter.NewWriter(c.env.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tSPENT\tLIMIT\tUSED\tSTATUS")
		for _, b := range e.Budgets(nil) {
			status := "ok"
			if b.Over {
				status = "over by " + c.env.money(b.Overage)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
				b.Category, c.env.money(b.Spent), c.env.money(b.Limit), b.Percent, status)
		}
		return w.Flush()
	})
}

type verifyCmd struct{ env *Env }

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check balances against the transaction log" }
func (*verifyCmd) Usage() string    { return "finlux-cli verify\n" }

func (*verifyCmd) SetFlags(*flag.FlagSet) {}

func (c *verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.env.run(ctx, func(e *ledger.Engine) error {
		bad := e.Verify()
		if len(bad) == 0 {
			fmt.Fprintln(c.env.Out, "balances are consistent")
			return nil
		}
		for _, d := range bad {
			fmt.Fprintf(c.env.Out, "%s: stored %s, log %s\n", d.AccountID, c.env.money(d.Stored), c.env.money(d.FromLog))
		}
		return fmt.Errorf("%d account(s) disagree with the log", len(bad))
	})
}

type resetCmd struct {
	env *Env
	yes bool
}

func (*resetCmd) Name() string     { return "reset" }
func (*resetCmd) Synopsis() string { return "delete every transaction and restore default accounts" }
func (*resetCmd) Usage() string {
	return `finlux-cli reset -yes

  Erases all stored data. Requires -yes.
`
}

func (c *resetCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Confirm the reset.")
}

func (c *resetCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		fmt.Fprintln(c.env.Err, "Error: reset erases all data; pass -yes to confirm.")
		return subcommands.ExitUsageError
	}
	return c.env.run(ctx, func(e *ledger.Engine) error {
		if err := e.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.env.Out, "ledger reset")
		return nil
	})
}
