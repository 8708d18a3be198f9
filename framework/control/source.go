package control

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"
)

// send delivers req unless ctx is done first.
func send(ctx context.Context, out chan<- Request, req Request) bool {
	select {
	case out <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

// WatchSignals maps process signals to requests until ctx is done.
// Interrupt and terminate become Terminate; on unix SIGUSR1 becomes Snapshot.
func WatchSignals(ctx context.Context, log *zap.Logger, out chan<- Request) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, watchedSignals...)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			req, ok := signalRequest(sig)
			if !ok {
				continue
			}
			log.Debug("signal received", zap.Stringer("signal", sig), zap.Stringer("request", req))
			if !send(ctx, out, req) {
				return nil
			}
		}
	}
}

// ReadLines parses each line of r into a request. Malformed lines are logged
// and skipped. It returns at end of input or when ctx is done; a blocked read
// on r is not interrupted by ctx.
func ReadLines(ctx context.Context, log *zap.Logger, r io.Reader, out chan<- Request) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		req, err := ParseLine(line)
		if err != nil {
			log.Warn("ignoring command", zap.Error(err))
			continue
		}
		if !send(ctx, out, req) {
			return nil
		}
	}
	return scanner.Err()
}
