package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	dockerclient "github.com/moby/moby/client"
	"github.com/moby/moby/errdefs"
	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/types"
)

// removeTimeout bounds the cleanup of a finished job container.
const removeTimeout = 30 * time.Second

// ExecResult is the outcome of a one-shot container run.
type ExecResult struct {
	Err      error // Err is nil only if the container ran and exited with code 0.
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Job runs one-shot commands in throwaway containers of a single image.
type Job struct {
	log      *zap.Logger
	client   dockerclient.APIClient
	imageRef string
}

// NewJob returns a Job that runs commands in containers created from imageRef.
func NewJob(logger *zap.Logger, cli dockerclient.APIClient, imageRef string) *Job {
	return &Job{
		log:      logger.With(zap.String("image", imageRef)),
		client:   cli,
		imageRef: imageRef,
	}
}

// Run creates a container for cmd, starts it, streams its output until it exits and removes it.
func (j *Job) Run(ctx context.Context, cmd []string, opts Options) ExecResult {
	cfg := &container.Config{
		Image:           j.imageRef,
		Cmd:             cmd,
		Env:             opts.Env,
		User:            opts.User,
		NetworkDisabled: opts.NetworkDisabled,
		Labels:          opts.Labels,
	}
	hostCfg := &container.HostConfig{
		Mounts:      opts.Mounts,
		NetworkMode: container.NetworkMode(opts.networkMode()),
	}

	resp, err := j.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return ExecResult{Err: fmt.Errorf("create container: %w", err), ExitCode: -1}
	}
	defer j.remove(resp.ID)

	if err := j.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return ExecResult{Err: fmt.Errorf("start container: %w", err), ExitCode: -1}
	}

	var stdout, stderr bytes.Buffer
	if err := j.streamLogs(ctx, resp.ID, &stdout, &stderr, opts.Output); err != nil {
		return ExecResult{Err: err, ExitCode: -1, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	}

	exitCode, err := j.wait(ctx, resp.ID)
	res := ExecResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		res.Err = err
		return res
	}
	if exitCode != 0 {
		res.Err = &types.ExitError{Cmd: cmd, Code: exitCode, Stderr: stderr.String()}
	}

	j.log.Debug("job finished",
		zap.Strings("cmd", cmd),
		zap.Int("exit_code", exitCode),
	)
	return res
}

// streamLogs follows the container output until the container exits.
func (j *Job) streamLogs(ctx context.Context, id string, stdout, stderr *bytes.Buffer, tee io.Writer) error {
	rc, err := j.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attach container logs: %w", err)
	}
	defer rc.Close()

	var outW, errW io.Writer = stdout, stderr
	if tee != nil {
		outW = io.MultiWriter(stdout, tee)
		errW = io.MultiWriter(stderr, tee)
	}
	if _, err := stdcopy.StdCopy(outW, errW, rc); err != nil {
		return fmt.Errorf("read container logs: %w", err)
	}
	return nil
}

func (j *Job) wait(ctx context.Context, id string) (int, error) {
	waitCh, errCh := j.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, fmt.Errorf("wait for container: %w", err)
	case res := <-waitCh:
		if res.Error != nil {
			return int(res.StatusCode), fmt.Errorf("wait for container: %s", res.Error.Message)
		}
		return int(res.StatusCode), nil
	}
}

func (j *Job) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := j.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		j.log.Warn("failed to remove job container", zap.String("container", id), zap.Error(err))
	}
}
