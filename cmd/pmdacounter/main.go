package main

import (
	"context"
	"os"

	"github.com/tobert/pmda-agent/internal/cli"
	"github.com/tobert/pmda-agent/internal/options"
)

const version = "0.1.0-dev"

// domain is the counter agent's registered PMDA domain number.
const domain = 450

func main() {
	agent := &cli.Agent{
		Name:          "pmdacounter",
		Usage:         "Counter performance metrics domain agent",
		Version:       version,
		DefaultDomain: domain,
		Extra:         []options.OptionSpec{cli.HelpfileOption},
	}

	os.Exit(cli.Main(context.Background(), agent, os.Args))
}
