package docker

import (
	"context"
	"fmt"

	"github.com/moby/moby/client"
)

// NewClient returns a docker client configured from the environment
// (DOCKER_HOST, DOCKER_API_VERSION, ...) and verifies the daemon answers.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon is not reachable: %w", err)
	}
	return cli, nil
}
