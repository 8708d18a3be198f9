package types

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// MountType describes how a host resource is exposed inside a container.
type MountType string

const (
	// MountTypeVolume mounts a named, runtime-managed volume.
	MountTypeVolume MountType = "volume"
	// MountTypeBind bind-mounts a host directory.
	MountTypeBind MountType = "bind"
)

// Mount is a single volume or bind mount for a container.
type Mount struct {
	Type   MountType
	Source string
	Target string
}

// PortBinding publishes a container port on a host address.
type PortBinding struct {
	// ContainerPort in "<port>/<proto>" form, e.g. "26657/tcp".
	ContainerPort string
	HostIP        string
	HostPort      string
}

// RunOptions contains everything needed to run a containerized command.
type RunOptions struct {
	// Name of the container. Required for long-running containers, optional for one-shot runs.
	Name  string
	Image string
	// Cmd is passed to the image entrypoint.
	Cmd    []string
	Env    []string
	Mounts []Mount
	Ports  []PortBinding
	// NetworkDisabled runs the container without any network access.
	NetworkDisabled bool
	// Output, if set, receives the combined stdout and stderr of the container while it runs.
	Output io.Writer
	// Labels tag the container, e.g. with the project it belongs to.
	Labels map[string]string
}

// ExecResult holds the captured output of a one-shot command.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when a command exits with a non-zero code.
type ExitError struct {
	Cmd    []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Cmd, " "), e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// RuntimeClient is the container runtime capability set the devnet depends on.
type RuntimeClient interface {
	// Run executes a one-shot container and blocks until it exits.
	// A non-zero exit code is reported as an *ExitError alongside the captured result.
	Run(ctx context.Context, opts RunOptions) (ExecResult, error)
	// Start launches a long-running container which is removed automatically once it stops.
	// Container output is streamed to opts.Output until the container stops.
	Start(ctx context.Context, opts RunOptions) (string, error)
	// Stop stops the named container. Stopping a container that does not exist is not an error.
	Stop(ctx context.Context, name string) error
	// VolumeExists reports whether the named volume exists.
	VolumeExists(ctx context.Context, name string) (bool, error)
	// RemoveVolume removes the named volume if it exists.
	RemoveVolume(ctx context.Context, name string) error
	// ImageExists reports whether the image is available locally.
	ImageExists(ctx context.Context, ref string) (bool, error)
	// PullImage pulls the image from its registry.
	PullImage(ctx context.Context, ref string) error
}
