package devnet

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/types"
)

// nodeBinary runs one-shot node binary commands in the node image against the
// project's data directory.
type nodeBinary struct {
	log     *zap.Logger
	runtime types.RuntimeClient
	image   string
	binding VolumeBinding
	labels  map[string]string
	// output receives the combined output of every command, may be nil.
	output io.Writer
}

func newNodeBinary(log *zap.Logger, rt types.RuntimeClient, image string, project Project, volumeName string, output io.Writer) *nodeBinary {
	return &nodeBinary{
		log:     log,
		runtime: rt,
		image:   image,
		binding: project.Binding(volumeName),
		labels:  project.Labels(),
		output:  output,
	}
}

// exec runs the node binary with args. Only commands that need it get network access.
func (b *nodeBinary) exec(ctx context.Context, networked bool, args ...string) (types.ExecResult, error) {
	b.log.Debug("running node command", zap.Strings("cmd", args), zap.Bool("network", networked))

	res, err := b.runtime.Run(ctx, types.RunOptions{
		Image:           b.image,
		Cmd:             args,
		Mounts:          []types.Mount{b.binding.Mount()},
		NetworkDisabled: !networked,
		Output:          b.output,
		Labels:          b.labels,
	})
	if err != nil {
		return res, fmt.Errorf("%s: %w", strings.Join(args, " "), err)
	}
	return res, nil
}

// keyringArgs are appended to every command touching the keyring.
func keyringArgs() []string {
	return []string{"--keyring-backend", keyring.BackendTest}
}
