package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"finlux/internal/cli"
	"finlux/internal/ledger"
	"finlux/internal/log"
)

func main() {
	cfg := cli.LoadConfig()
	// Logs go to stderr so they never mix with command output.
	logger := cli.SetupLogger(os.Stderr, cfg.LogLevel, log.ComponentCLI)
	cli.MustValidate(logger, cfg)
	factory := cli.InitFactory(logger, cfg)

	env := &cli.Env{
		Open: func(ctx context.Context) (*ledger.Engine, func(), error) {
			return cli.OpenGuest(ctx, factory,
				ledger.WithTimeout(cfg.OperationTimeout),
				ledger.WithLogger(logger))
		},
		Out:      os.Stdout,
		Err:      os.Stderr,
		Currency: cfg.Currency,
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for _, c := range cli.Commands(env) {
		commander.Register(c, "ledger")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
