// Package main provides the modrun CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/architect-io/modrun/internal/cli"
)

func main() {
	err := cli.Execute()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}
