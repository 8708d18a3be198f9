//go:build !windows

package control

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1}

func signalRequest(sig os.Signal) (Request, bool) {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return Request{Kind: Terminate}, true
	case syscall.SIGUSR1:
		return Request{Kind: Snapshot}, true
	default:
		return Request{}, false
	}
}
