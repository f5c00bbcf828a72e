package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pathforge/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "pathforge",
		Usage:   "AI-assisted learning path generator for codebases",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "pathforge.toml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "pretty-log",
				Usage: "Human-readable console logging",
			},
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.IndexCommand(),
			cmd.PlanCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
