//go:build windows

package control

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func signalRequest(sig os.Signal) (Request, bool) {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return Request{Kind: Terminate}, true
	default:
		return Request{}, false
	}
}
