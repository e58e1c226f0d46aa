// Package main is the entry point for the ecatlink driver tools.
package main

import (
	"fmt"
	"os"

	"github.com/ecatlink/ecatlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
