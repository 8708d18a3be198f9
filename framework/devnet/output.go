package devnet

import (
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// syncWriter serializes writes from the node output pumps.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// nodeLogWriter logs every line the node prints at info level.
type nodeLogWriter struct {
	syncWriter
	zw *zapio.Writer
}

func newNodeLogWriter(log *zap.Logger) *nodeLogWriter {
	zw := &zapio.Writer{Log: log, Level: zapcore.InfoLevel}
	return &nodeLogWriter{syncWriter: syncWriter{w: zw}, zw: zw}
}

// Close flushes a trailing partial line.
func (n *nodeLogWriter) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.zw.Close()
}
