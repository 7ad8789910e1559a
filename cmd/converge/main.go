// Package main is the entry point for the converge binary.
package main

import (
	"os"

	"github.com/whisperstream/dbt/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
