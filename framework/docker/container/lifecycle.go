package container

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	dockerclient "github.com/moby/moby/client"
	"github.com/moby/moby/errdefs"
	"go.uber.org/zap"
)

// stopTimeoutSeconds is the grace period docker gives the container before killing it.
const stopTimeoutSeconds = 10

// Lifecycle manages a single long-running, named container.
type Lifecycle struct {
	log           *zap.Logger
	client        dockerclient.APIClient
	containerName string
	id            string
}

// NewLifecycle returns a Lifecycle for the container with the given name.
func NewLifecycle(logger *zap.Logger, cli dockerclient.APIClient, containerName string) *Lifecycle {
	return &Lifecycle{
		log:           logger.With(zap.String("container", containerName)),
		client:        cli,
		containerName: containerName,
	}
}

// CreateContainer creates, but does not start, the container. A leftover container
// with the same name is removed first so only one instance can exist.
// The container is removed by docker once it stops.
func (c *Lifecycle) CreateContainer(ctx context.Context, imageRef string, cmd []string, opts Options) error {
	if err := c.RemoveContainer(ctx); err != nil {
		return err
	}

	cfg := &container.Config{
		Image:           imageRef,
		Cmd:             cmd,
		Env:             opts.Env,
		User:            opts.User,
		ExposedPorts:    opts.exposedPorts(),
		NetworkDisabled: opts.NetworkDisabled,
		Labels:          opts.Labels,
	}
	hostCfg := &container.HostConfig{
		AutoRemove:   true,
		Mounts:       opts.Mounts,
		PortBindings: opts.PortBindings,
		NetworkMode:  container.NetworkMode(opts.networkMode()),
	}

	resp, err := c.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, c.containerName)
	if err != nil {
		return fmt.Errorf("create container %s: %w", c.containerName, err)
	}
	c.id = resp.ID

	for _, w := range resp.Warnings {
		c.log.Warn("container create warning", zap.String("warning", w))
	}
	return nil
}

// StartContainer starts the previously created container.
func (c *Lifecycle) StartContainer(ctx context.Context) error {
	if err := c.client.ContainerStart(ctx, c.ContainerID(), container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", c.containerName, err)
	}
	c.log.Info("container started", zap.String("id", c.ContainerID()))
	return nil
}

// StreamLogs copies the container output to w until the container stops or ctx is done.
func (c *Lifecycle) StreamLogs(ctx context.Context, w io.Writer) error {
	rc, err := c.client.ContainerLogs(ctx, c.ContainerID(), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attach container logs: %w", err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(w, w, rc); err != nil {
		return fmt.Errorf("read container logs: %w", err)
	}
	return nil
}

// StopContainer stops the container and waits until docker has removed it.
// A container that is already gone is not an error.
func (c *Lifecycle) StopContainer(ctx context.Context) error {
	timeout := stopTimeoutSeconds
	err := c.client.ContainerStop(ctx, c.ContainerID(), container.StopOptions{Timeout: &timeout})
	if IsLoggableStopError(err) {
		return fmt.Errorf("stop container %s: %w", c.containerName, err)
	}
	if err != nil {
		return nil
	}

	waitCh, errCh := c.client.ContainerWait(ctx, c.ContainerID(), container.WaitConditionRemoved)
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait for container %s removal: %w", c.containerName, ctx.Err())
	case err := <-errCh:
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("wait for container %s removal: %w", c.containerName, err)
	case <-waitCh:
		return nil
	}
}

// RemoveContainer force-removes the container if it exists.
func (c *Lifecycle) RemoveContainer(ctx context.Context) error {
	err := c.client.ContainerRemove(ctx, c.ContainerID(), container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("remove container %s: %w", c.containerName, err)
	}
	return nil
}

// ContainerID returns the id of the created container, or its name if it was not created by this Lifecycle.
func (c *Lifecycle) ContainerID() string {
	if c.id != "" {
		return c.id
	}
	return c.containerName
}

// IsLoggableStopError reports whether err from a stop call is worth reporting.
// Stopping a container that is already stopped or gone is not.
func IsLoggableStopError(err error) bool {
	if err == nil {
		return false
	}
	return !(errdefs.IsNotModified(err) || errdefs.IsNotFound(err))
}
