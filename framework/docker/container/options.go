package container

import (
	"io"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// Options contains configuration for container execution
type Options struct {
	// volume and bind mounts: https://docs.docker.com/storage/
	Mounts []mount.Mount
	// Environment variables
	Env []string
	// If blank, defaults to the container's default user.
	User string
	// NetworkDisabled runs the container without any network interface besides loopback.
	NetworkDisabled bool
	// Ports published on the host. Only used by long-running containers.
	PortBindings nat.PortMap
	// Output receives the demultiplexed stdout and stderr while the container runs.
	Output io.Writer
	// Labels are set on the created container.
	Labels map[string]string
}

// exposedPorts returns the port set matching the published ports.
func (o Options) exposedPorts() nat.PortSet {
	if len(o.PortBindings) == 0 {
		return nil
	}
	ports := make(nat.PortSet, len(o.PortBindings))
	for p := range o.PortBindings {
		ports[p] = struct{}{}
	}
	return ports
}

func (o Options) networkMode() string {
	if o.NetworkDisabled {
		return "none"
	}
	return ""
}
