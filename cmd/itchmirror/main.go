// Package main provides the itchmirror command.
package main

import (
	"os"

	"github.com/clean-dependency-project/itchmirror/internal/cli"
	"github.com/clean-dependency-project/itchmirror/internal/report"
)

func main() {
	if err := cli.LoadDotEnv(".env"); err != nil {
		report.PrintFailure(os.Stderr, err)
		os.Exit(1)
	}

	app := cli.NewApp()
	if err := app.Run(os.Args); err != nil {
		report.PrintFailure(os.Stderr, err)
		os.Exit(1)
	}
}
