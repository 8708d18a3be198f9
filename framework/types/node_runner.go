package types

import "context"

// NodeRunner runs a single devnet node. Implementations decide whether the node
// lives in a container or in a host process.
type NodeRunner interface {
	// Start launches the node and returns once it has been started.
	Start(ctx context.Context) error
	// Stop stops the node and waits for it to exit.
	Stop(ctx context.Context) error
	// IsRunning reports whether the node is currently running.
	IsRunning() bool
	// Kind names the runner strategy, for logging.
	Kind() string
}
