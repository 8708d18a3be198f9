package devnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ubunteroz/spinarch/framework/types"
)

var _ types.NodeRunner = (*ProcessRunner)(nil)

// ProcessRunner runs the node binary directly on the host against a persistent
// project directory.
type ProcessRunner struct {
	log     *zap.Logger
	binary  string
	project Project
	denom   string
	output  io.Writer

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func NewProcessRunner(log *zap.Logger, binary string, project Project, denom string, output io.Writer) *ProcessRunner {
	if output == nil {
		output = io.Discard
	}
	return &ProcessRunner{
		log:     log.With(zap.String("binary", binary)),
		binary:  binary,
		project: project,
		denom:   denom,
		output:  output,
	}
}

func (r *ProcessRunner) Kind() string {
	return "process"
}

// Pid of the tracked process, 0 when none is running.
func (r *ProcessRunner) Pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

func (r *ProcessRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *ProcessRunner) args() []string {
	return []string{
		"start",
		"--moniker", CondenseMoniker(r.project.ID),
		"--minimum-gas-prices", "0" + r.denom,
		"--rpc.laddr", "tcp://" + RPCHost + ":" + RPCPort,
		"--home", r.project.Dir,
	}
}

// Start spawns the node. The process outlives ctx; only Stop ends it.
func (r *ProcessRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		select {
		case <-r.done:
			// exited on its own.
			r.cmd, r.done = nil, nil
		default:
			return fmt.Errorf("node process %d is already tracked", r.cmd.Process.Pid)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(r.binary, r.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", r.binary, err)
	}

	done := make(chan struct{})
	r.cmd, r.done = cmd, done
	pid := cmd.Process.Pid
	r.log.Info("node process started", zap.Int("pid", pid))

	go func() {
		defer close(done)

		// pipes must be drained before Wait closes them.
		var pumps errgroup.Group
		pumps.Go(func() error {
			_, err := io.Copy(r.output, stdout)
			return err
		})
		pumps.Go(func() error {
			_, err := io.Copy(r.output, stderr)
			return err
		})
		if err := pumps.Wait(); err != nil {
			r.log.Debug("node output stream ended", zap.Error(err))
		}

		err := cmd.Wait()
		r.log.Info("node process exited", zap.Int("pid", pid), zap.Int("exit_code", cmd.ProcessState.ExitCode()), zap.Error(err))
	}()
	return nil
}

// Stop interrupts the tracked process and waits for it to exit. When ctx
// expires first the process is killed.
func (r *ProcessRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return nil
	}
	cmd, done := r.cmd, r.done
	defer func() {
		r.cmd, r.done = nil, nil
	}()

	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-done
			return nil
		}
		r.log.Warn("failed to interrupt node process, killing it", zap.Error(err))
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.log.Warn("node process did not exit in time, killing it", zap.Int("pid", cmd.Process.Pid))
		killErr := cmd.Process.Kill()
		<-done
		if killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return fmt.Errorf("killing node process: %w", killErr)
		}
		return fmt.Errorf("node process did not exit after interrupt: %w", ctx.Err())
	}
}

// LocalNodeBinary returns the node binary to run natively: explicit when set,
// otherwise the bundled darwin/arm64 build next to the executable if present.
func LocalNodeBinary(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if runtime.GOOS != "darwin" || runtime.GOARCH != "arm64" {
		return "", false
	}
	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(filepath.Dir(exe), "bin", "archwayd-darwin-arm64")
	if info, err := os.Stat(candidate); err != nil || info.IsDir() {
		return "", false
	}
	return candidate, true
}
