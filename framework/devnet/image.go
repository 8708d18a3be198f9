package devnet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/types"
)

// ensureImage pulls ref when it is missing locally, or always when update is set.
func ensureImage(ctx context.Context, log *zap.Logger, rt types.RuntimeClient, ref string, update bool) error {
	if !update {
		present, err := rt.ImageExists(ctx, ref)
		if err != nil {
			return fmt.Errorf("inspecting image %s: %w", ref, err)
		}
		if present {
			log.Debug("image present", zap.String("image", ref))
			return nil
		}
	}

	log.Info("pulling image", zap.String("image", ref))
	if err := rt.PullImage(ctx, ref); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}
