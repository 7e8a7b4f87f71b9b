package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "pipeline",
		Usage: "Daily market data ETL and API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   "configs/config.yaml",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the scheduled ETL and chat commands",
				Action: serveAction,
			},
			{
				Name:  "run",
				Usage: "Run one ETL batch and print its report as JSON",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "ticker",
						Aliases: []string{"t"},
						Usage:   "Ticker to process; repeat or comma-separate. Defaults to the configured tickers",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Fetch even if stored data is current",
					},
					&cli.BoolFlag{
						Name:  "incremental",
						Usage: "Skip current tickers and load only new bars",
					},
				},
				Action: runAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
