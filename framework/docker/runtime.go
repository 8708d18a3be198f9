package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	dockerclient "github.com/moby/moby/client"
	"github.com/moby/moby/errdefs"
	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/docker/container"
	"github.com/ubunteroz/spinarch/framework/docker/internal"
	"github.com/ubunteroz/spinarch/framework/types"
)

var _ types.RuntimeClient = &Runtime{}

// Runtime runs devnet containers against a docker daemon.
type Runtime struct {
	log    *zap.Logger
	client dockerclient.APIClient
}

// NewRuntime returns a Runtime backed by cli.
func NewRuntime(logger *zap.Logger, cli dockerclient.APIClient) *Runtime {
	return &Runtime{
		log:    logger.Named("docker"),
		client: cli,
	}
}

// Run executes a one-shot container and blocks until it exits.
func (r *Runtime) Run(ctx context.Context, opts types.RunOptions) (types.ExecResult, error) {
	imageRef := internal.NormalizeImageRef(opts.Image)
	if err := internal.EnsureImage(ctx, r.log, r.client, imageRef); err != nil {
		return types.ExecResult{}, fmt.Errorf("ensure image %s: %w", imageRef, err)
	}
	job := container.NewJob(r.log, r.client, imageRef)
	res := job.Run(ctx, opts.Cmd, toContainerOptions(opts))
	return types.ExecResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}, res.Err
}

// Start launches a long-running container. If the image is not present locally it
// is pulled and the create is retried. Output is streamed to opts.Output until the
// container stops.
func (r *Runtime) Start(ctx context.Context, opts types.RunOptions) (string, error) {
	if opts.Name == "" {
		return "", errors.New("long-running containers need a name")
	}
	name := internal.SanitizeDockerResourceName(opts.Name)
	imageRef := internal.NormalizeImageRef(opts.Image)
	copts := toContainerOptions(opts)

	lc := container.NewLifecycle(r.log, r.client, name)
	if err := lc.CreateContainer(ctx, imageRef, opts.Cmd, copts); err != nil {
		if !errdefs.IsNotFound(err) {
			return "", err
		}
		if err := internal.PullImage(ctx, r.log, r.client, imageRef); err != nil {
			return "", err
		}
		if err := lc.CreateContainer(ctx, imageRef, opts.Cmd, copts); err != nil {
			return "", fmt.Errorf("create container after pull: %w", err)
		}
	}

	if err := lc.StartContainer(ctx); err != nil {
		return "", err
	}

	if opts.Output != nil {
		go func() {
			// the stream ends once the container stops and is auto-removed.
			if err := lc.StreamLogs(context.Background(), opts.Output); err != nil {
				r.log.Debug("container log stream ended", zap.String("container", name), zap.Error(err))
			}
		}()
	}

	return lc.ContainerID(), nil
}

// Stop stops the named container and waits for its removal.
func (r *Runtime) Stop(ctx context.Context, name string) error {
	lc := container.NewLifecycle(r.log, r.client, internal.SanitizeDockerResourceName(name))
	return lc.StopContainer(ctx)
}

// ImageExists reports whether ref is present locally.
func (r *Runtime) ImageExists(ctx context.Context, ref string) (bool, error) {
	return internal.ImagePresent(ctx, r.client, ref)
}

// PullImage pulls ref, retrying transient failures.
func (r *Runtime) PullImage(ctx context.Context, ref string) error {
	return internal.PullImage(ctx, r.log, r.client, ref)
}

func toContainerOptions(opts types.RunOptions) container.Options {
	return container.Options{
		Mounts:          toDockerMounts(opts.Mounts),
		Env:             opts.Env,
		NetworkDisabled: opts.NetworkDisabled,
		PortBindings:    toPortMap(opts.Ports),
		Output:          opts.Output,
		Labels:          managedLabels(opts.Labels),
	}
}

func toDockerMounts(mounts []types.Mount) []mount.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		mt := mount.TypeBind
		if m.Type == types.MountTypeVolume {
			mt = mount.TypeVolume
		}
		out = append(out, mount.Mount{
			Type:   mt,
			Source: m.Source,
			Target: m.Target,
		})
	}
	return out
}

func toPortMap(ports []types.PortBinding) nat.PortMap {
	if len(ports) == 0 {
		return nil
	}
	pm := make(nat.PortMap, len(ports))
	for _, p := range ports {
		port := nat.Port(p.ContainerPort)
		pm[port] = append(pm[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: p.HostPort,
		})
	}
	return pm
}
