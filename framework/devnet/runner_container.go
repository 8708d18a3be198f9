package devnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/types"
)

var _ types.NodeRunner = (*ContainerRunner)(nil)

// ContainerRunner runs the node as a long-running container with a fixed name.
type ContainerRunner struct {
	log        *zap.Logger
	runtime    types.RuntimeClient
	project    Project
	image      string
	name       string
	volumeName string
	denom      string
	output     io.Writer

	running atomic.Bool
}

type ContainerRunnerConfig struct {
	Image         string
	ContainerName string
	VolumeName    string
	StakeDenom    string
	// Output receives the container log stream.
	Output io.Writer
}

func NewContainerRunner(log *zap.Logger, rt types.RuntimeClient, project Project, cfg ContainerRunnerConfig) *ContainerRunner {
	return &ContainerRunner{
		log:        log.With(zap.String("container", cfg.ContainerName)),
		runtime:    rt,
		project:    project,
		image:      cfg.Image,
		name:       cfg.ContainerName,
		volumeName: cfg.VolumeName,
		denom:      cfg.StakeDenom,
		output:     cfg.Output,
	}
}

func (r *ContainerRunner) Kind() string {
	return "container"
}

func (r *ContainerRunner) IsRunning() bool {
	return r.running.Load()
}

func (r *ContainerRunner) Start(ctx context.Context) error {
	binding := r.project.Binding(r.volumeName)
	id, err := r.runtime.Start(ctx, types.RunOptions{
		Name:  r.name,
		Image: r.image,
		Cmd: []string{
			"start",
			"--moniker", CondenseMoniker(r.project.ID),
			"--minimum-gas-prices", "0" + r.denom,
			"--rpc.laddr", "tcp://0.0.0.0:" + RPCPort,
		},
		Mounts: []types.Mount{binding.Mount()},
		Ports: []types.PortBinding{
			{ContainerPort: RPCPort + "/tcp", HostIP: RPCHost, HostPort: RPCPort},
		},
		Output: r.output,
		Labels: r.project.Labels(),
	})
	if err != nil {
		return fmt.Errorf("starting container %s: %w", r.name, err)
	}

	r.running.Store(true)
	r.log.Info("node container started", zap.String("id", id))
	return nil
}

// Stop stops the container, which the runtime removes. An ephemeral project
// also loses its volume.
func (r *ContainerRunner) Stop(ctx context.Context) error {
	var errs []error
	if err := r.runtime.Stop(ctx, r.name); err != nil {
		errs = append(errs, fmt.Errorf("stopping container %s: %w", r.name, err))
	}
	r.running.Store(false)

	if !r.project.Persistent {
		if err := r.runtime.RemoveVolume(ctx, r.volumeName); err != nil {
			errs = append(errs, fmt.Errorf("removing volume %s: %w", r.volumeName, err))
		} else {
			r.log.Debug("removed ephemeral volume", zap.String("volume", r.volumeName))
		}
	}
	return errors.Join(errs...)
}
