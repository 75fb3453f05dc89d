// Command papertradectl runs maintenance tasks against a market-sim
// database: schema migration, quote lookups and ledger inspection.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, "papertradectl")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&migrateCmd{}, "database")
	commander.Register(&historyCmd{}, "database")
	commander.Register(&portfolioCmd{}, "database")
	commander.Register(&quoteCmd{}, "market")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
