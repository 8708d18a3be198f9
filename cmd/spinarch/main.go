package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ubunteroz/spinarch/framework/devnet"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage names the failed phase when there is one.
func errorMessage(err error) string {
	var pe *devnet.PhaseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s failed: %v", pe.Phase, pe.Err)
	}
	return "error: " + err.Error()
}
