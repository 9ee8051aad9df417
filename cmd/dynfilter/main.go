// Package main is the entry point for the dynfilter CLI binary.
package main

import (
	"os"

	"dynfilter/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
