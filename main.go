// Package main is the entry point for the IEX DEEP capture decoder.
package main

import (
	"fmt"
	"os"

	"github.com/mafuba8/iex-parser/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
