package devnet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// GenesisInitializer creates the genesis file of a project.
type GenesisInitializer struct {
	log *zap.Logger
	bin *nodeBinary
}

func NewGenesisInitializer(log *zap.Logger, bin *nodeBinary) *GenesisInitializer {
	return &GenesisInitializer{log: log, bin: bin}
}

// Ensure runs `init` unless the project is persistent and already has a genesis
// file. Ephemeral projects are always initialized.
func (g *GenesisInitializer) Ensure(ctx context.Context, project Project) error {
	if project.Persistent {
		exists, err := genesisExists(project)
		if err != nil {
			return phaseError(PhaseGenesis, err)
		}
		if exists {
			g.log.Debug("genesis file already present", zap.String("path", project.GenesisPath()))
			return nil
		}
	}

	g.log.Info("generating genesis file", zap.String("chain_id", project.ChainID))
	if _, err := g.bin.exec(ctx, false, "init", project.ID, "--chain-id", project.ChainID); err != nil {
		return phaseError(PhaseGenesis, err)
	}
	return nil
}

func genesisExists(project Project) (bool, error) {
	_, err := os.Stat(project.GenesisPath())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", project.GenesisPath(), err)
	}
}
