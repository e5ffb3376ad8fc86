package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Serve    ServeCmd         `cmd:"" help:"Run the settlement service"`
	Allocate AllocateCmd      `cmd:"" help:"Dry-run a rake allocation for a pot amount"`
	HandID   HandIDCmd        `cmd:"" name:"hand-id" help:"Mint hand IDs for engines and test fixtures"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("settled"),
		kong.Description("Pot settlement service: rake allocation, payout distribution, and the chip ledger behind them"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
