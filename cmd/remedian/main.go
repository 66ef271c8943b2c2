// Package main is the entry point for the remedian CLI.
package main

import (
	"os"

	"github.com/remedian/remedian/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
