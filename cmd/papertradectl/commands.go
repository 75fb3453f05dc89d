package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/portfolio"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/store"
	"github.com/papertrade/market-sim/internal/symbol"
)

// --- migrateCmd ---

type migrateCmd struct {
	db string
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending schema migrations" }
func (*migrateCmd) Usage() string {
	return `papertradectl migrate [-db <database_url>]

  Applies every embedded migration that has not run yet. Supports
  postgres:// and sqlite: URLs.
`
}
func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", os.Getenv("DATABASE_URL"), "Database URL (defaults to $DATABASE_URL).")
}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.db == "" {
		fmt.Fprintln(os.Stderr, "Error: -db or DATABASE_URL is required.")
		return subcommands.ExitUsageError
	}
	backend, err := store.Open(ctx, c.db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer backend.Close()

	if err := backend.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s schema is up to date\n", backend.Dialect)
	return subcommands.ExitSuccess
}

// --- quoteCmd ---

type quoteCmd struct {
	apiKey  string
	baseURL string
	timeout time.Duration
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "look up live prices" }
func (*quoteCmd) Usage() string {
	return `papertradectl quote [-key <api_key>] SYMBOL...

  Prints the provider's current price for each symbol.
`
}
func (c *quoteCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.apiKey, "key", os.Getenv("QUOTE_API_KEY"), "Provider API key (defaults to $QUOTE_API_KEY).")
	f.StringVar(&c.baseURL, "url", quote.DefaultBaseURL, "Provider endpoint.")
	f.DurationVar(&c.timeout, "timeout", quote.DefaultTimeout, "Per-request timeout.")
}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}
	q := quote.NewAlphaVantage(c.apiKey, quote.WithBaseURL(c.baseURL), quote.WithTimeout(c.timeout))
	if err := printQuotes(ctx, os.Stdout, q, f.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// printQuotes writes one row per symbol. Failed lookups are reported in
// place and make the result an error once every symbol has been tried.
func printQuotes(ctx context.Context, w io.Writer, q quote.Quoter, symbols []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\t")

	var failed error
	for _, raw := range symbols {
		sym, err := symbol.Parse(raw)
		if err == nil {
			var res quote.Quote
			if res, err = q.Quote(ctx, sym); err == nil {
				fmt.Fprintf(tw, "%s\t%s\t\n", sym, res.Price.Display())
				continue
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", symbol.Normalize(raw), "n/a")
		failed = errors.Join(failed, err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return failed
}

// --- historyCmd ---

type historyCmd struct {
	db    string
	user  string
	limit int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print a user's ledger" }
func (*historyCmd) Usage() string {
	return `papertradectl history -user <id|username|email> [-n <limit>] [-db <database_url>]

  Prints the user's ledger entries, newest first.
`
}
func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", os.Getenv("DATABASE_URL"), "Database URL (defaults to $DATABASE_URL).")
	f.StringVar(&c.user, "user", "", "User id, username or email.")
	f.IntVar(&c.limit, "n", 0, "Show at most n entries (0 for all).")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	st, closeFn, userID, status := openForUser(ctx, c.db, c.user)
	if status != subcommands.ExitSuccess {
		return status
	}
	defer closeFn()

	entries, err := portfolio.NewService(st, nil).History(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.limit > 0 && len(entries) > c.limit {
		entries = entries[:c.limit]
	}
	if err := printHistory(os.Stdout, entries); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printHistory(w io.Writer, entries []model.LedgerEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tSYMBOL\tQTY\tPRICE\tTOTAL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.Type, e.Symbol, e.Quantity,
			e.UnitPrice.Display(), e.Total().Display())
	}
	return tw.Flush()
}

// --- portfolioCmd ---

type portfolioCmd struct {
	db   string
	user string
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "print a user's cash and positions at cost" }
func (*portfolioCmd) Usage() string {
	return `papertradectl portfolio -user <id|username|email> [-db <database_url>]

  Prints cash and open positions valued at average cost. No quote
  provider is contacted.
`
}
func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", os.Getenv("DATABASE_URL"), "Database URL (defaults to $DATABASE_URL).")
	f.StringVar(&c.user, "user", "", "User id, username or email.")
}

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	st, closeFn, userID, status := openForUser(ctx, c.db, c.user)
	if status != subcommands.ExitSuccess {
		return status
	}
	defer closeFn()

	acct, err := st.GetAccount(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading account: %v\n", err)
		return subcommands.ExitFailure
	}
	positions, err := st.GetPositions(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading positions: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := printPositions(os.Stdout, acct, positions); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printPositions(w io.Writer, acct *model.Account, positions []model.Position) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG COST\tAT COST")
	total := acct.CashBalance
	for _, p := range positions {
		atCost := p.AverageCost.Mul(p.Quantity)
		total = total.Add(atCost)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Symbol, p.Quantity, p.AverageCost.Display(), atCost.Display())
	}
	fmt.Fprintf(tw, "CASH\t\t\t%s\n", acct.CashBalance.Display())
	fmt.Fprintf(tw, "TOTAL\t\t\t%s\n", total.Display())
	return tw.Flush()
}

// openForUser opens db and resolves login to a user id.
func openForUser(ctx context.Context, db, login string) (store.Store, func(), string, subcommands.ExitStatus) {
	if db == "" || login == "" {
		fmt.Fprintln(os.Stderr, "Error: -user and -db (or DATABASE_URL) are required.")
		return nil, nil, "", subcommands.ExitUsageError
	}
	backend, err := store.Open(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return nil, nil, "", subcommands.ExitFailure
	}
	userID, err := resolveUser(ctx, backend.Store, login)
	if err != nil {
		backend.Close()
		fmt.Fprintf(os.Stderr, "Error finding user %q: %v\n", login, err)
		return nil, nil, "", subcommands.ExitFailure
	}
	return backend.Store, backend.Close, userID, subcommands.ExitSuccess
}

// resolveUser accepts a user id, username or email.
func resolveUser(ctx context.Context, st store.Store, login string) (string, error) {
	u, err := st.GetUser(ctx, login)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	u, err = st.GetUserByLogin(ctx, login)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}
