package internal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/filters"
	dockerimagetypes "github.com/docker/docker/api/types/image"
	"github.com/moby/moby/client"
	"go.uber.org/zap"
)

// presentImages caches refs already known to exist locally.
var (
	presentImagesMu sync.Mutex
	presentImages   = map[string]bool{}
)

const (
	// Retry configuration for image pulls
	maxPullAttempts  = 3
	initialPullDelay = 1 * time.Second
	maxPullDelay     = 10 * time.Second
)

// ImagePresent reports whether ref is available in the local image store.
func ImagePresent(ctx context.Context, cli client.APIClient, ref string) (bool, error) {
	ref = NormalizeImageRef(ref)

	presentImagesMu.Lock()
	known := presentImages[ref]
	presentImagesMu.Unlock()
	if known {
		return true, nil
	}

	images, err := cli.ImageList(ctx, dockerimagetypes.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, fmt.Errorf("listing images to check %s presence: %w", ref, err)
	}
	if len(images) == 0 {
		return false, nil
	}

	markPresent(ref)
	return true, nil
}

// PullImage pulls ref with exponential backoff and drains the progress stream.
func PullImage(ctx context.Context, log *zap.Logger, cli client.APIClient, ref string) error {
	ref = NormalizeImageRef(ref)
	log.Info("pulling image", zap.String("image", ref))

	err := retry.Do(
		func() error {
			rc, err := cli.ImagePull(ctx, ref, dockerimagetypes.PullOptions{})
			if err != nil {
				return fmt.Errorf("pulling image %s: %w", ref, err)
			}
			defer rc.Close()

			if _, err := io.Copy(io.Discard, rc); err != nil {
				return fmt.Errorf("pulling image %s: read response: %w", ref, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxPullAttempts),
		retry.Delay(initialPullDelay),
		retry.MaxDelay(maxPullDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("image pull failed, retrying", zap.String("image", ref), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to pull image %s after retries: %w", ref, err)
	}

	markPresent(ref)
	return nil
}

// EnsureImage pulls ref unless it is already present locally.
func EnsureImage(ctx context.Context, log *zap.Logger, cli client.APIClient, ref string) error {
	ok, err := ImagePresent(ctx, cli, ref)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return PullImage(ctx, log, cli, ref)
}

func markPresent(ref string) {
	presentImagesMu.Lock()
	defer presentImagesMu.Unlock()
	presentImages[ref] = true
}
