package docker

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/filters"
	volumetypes "github.com/docker/docker/api/types/volume"
	"github.com/moby/moby/errdefs"
	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/docker/internal"
)

// VolumeExists reports whether a volume with exactly this name exists.
func (r *Runtime) VolumeExists(ctx context.Context, name string) (bool, error) {
	name = internal.SanitizeDockerResourceName(name)
	res, err := r.client.VolumeList(ctx, volumetypes.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("list volumes: %w", err)
	}
	// the name filter matches substrings.
	for _, v := range res.Volumes {
		if v != nil && v.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// RemoveVolume removes the named volume. A missing volume is not an error.
// Removal is retried while docker reports a conflict, which happens when the
// container that used it is still being removed.
func (r *Runtime) RemoveVolume(ctx context.Context, name string) error {
	name = internal.SanitizeDockerResourceName(name)
	exists, err := r.VolumeExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	err = retry.Do(
		func() error {
			err := r.client.VolumeRemove(ctx, name, false)
			if err == nil || errdefs.IsNotFound(err) {
				return nil
			}
			if errdefs.IsConflict(err) {
				// still in use; try again.
				return err
			}

			// Give up on any other error.
			return retry.Unrecoverable(err)
		},
		retry.Context(ctx),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}

	r.log.Info("removed volume", zap.String("volume", name))
	return nil
}
