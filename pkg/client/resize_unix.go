//go:build !windows

package client

import (
	"os"
	"os/signal"
	"syscall"
)

func registerResizeSignal(sigCh chan<- os.Signal) {
	if sigCh == nil {
		return
	}
	signal.Notify(sigCh, syscall.SIGWINCH)
}

func unregisterResizeSignal(sigCh chan<- os.Signal) {
	if sigCh == nil {
		return
	}
	signal.Stop(sigCh)
}
