package devnet

import (
	"context"
	"fmt"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	libclient "github.com/cometbft/cometbft/rpc/jsonrpc/client"
)

// RPCProbe reports once the node RPC endpoint answers or ctx is done.
type RPCProbe func(ctx context.Context) error

// NewRPCProbe polls /status on addr until the node reports it is not catching up.
func NewRPCProbe(addr string, interval time.Duration) RPCProbe {
	return func(ctx context.Context) error {
		httpClient, err := libclient.DefaultHTTPClient(addr)
		if err != nil {
			return err
		}
		httpClient.Timeout = 5 * time.Second

		client, err := rpchttp.NewWithClient(addr, "/websocket", httpClient)
		if err != nil {
			return err
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastErr error
		for {
			stat, err := client.Status(ctx)
			switch {
			case err != nil:
				lastErr = err
			case stat.SyncInfo.CatchingUp:
				lastErr = fmt.Errorf("node is catching up at height %d", stat.SyncInfo.LatestBlockHeight)
			default:
				return nil
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("waiting for node rpc at %s: %w (last error: %v)", addr, ctx.Err(), lastErr)
			case <-ticker.C:
			}
		}
	}
}

// DefaultRPCAddress is the loopback RPC endpoint of the node.
func DefaultRPCAddress() string {
	return "tcp://" + RPCHost + ":" + RPCPort
}
