package control

import (
	"context"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReadLines(t *testing.T) {
	in := strings.NewReader("start\n\nbogus\nrestore snap.tar\nquit\n")
	out := make(chan Request, 8)

	require.NoError(t, ReadLines(context.Background(), zaptest.NewLogger(t), in, out))
	close(out)

	var got []Request
	for req := range out {
		got = append(got, req)
	}
	require.Equal(t, []Request{
		{Kind: Start},
		{Kind: Restore, Snapshot: "snap.tar"},
		{Kind: Terminate},
	}, got)
}

func TestReadLines_StopsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// nobody receives, so the first send can only end through ctx
	out := make(chan Request)
	require.NoError(t, ReadLines(ctx, zaptest.NewLogger(t), strings.NewReader("start\nstop\n"), out))
}

func TestSignalRequest(t *testing.T) {
	req, ok := signalRequest(syscall.SIGTERM)
	require.True(t, ok)
	require.Equal(t, Request{Kind: Terminate}, req)
}

func TestWatchSignals_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchSignals(ctx, zaptest.NewLogger(t), make(chan Request))
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WatchSignals did not return")
	}
}
