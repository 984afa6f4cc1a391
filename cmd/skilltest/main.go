// Command skilltest runs behavioral regression scenarios against a
// skill-steered coding agent.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		var exitErr *exitError
		if !errors.As(err, &exitErr) {
			fatal(err)
		}
		os.Exit(exitCode(err))
	}
}
