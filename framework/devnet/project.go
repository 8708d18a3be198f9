package devnet

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/docker/docker/pkg/namesgenerator"

	"github.com/ubunteroz/spinarch/framework/types"
)

const (
	// NodeHomeDir is where the node's data directory is mounted inside containers.
	NodeHomeDir = "/root/.archway"
	// AccountsFileName is the persisted account list inside the project directory.
	AccountsFileName = "spinarch_accounts.json"
	// SnapshotDirName is the snapshot directory, a sibling of the project directories.
	SnapshotDirName = ".snapshots"
	// ProjectLabel is the container label carrying the project id.
	ProjectLabel = "io.spinarch.project"
)

var invalidProjectIDCharsRE = regexp.MustCompile(`[^0-9a-zA-Z_-]`)

// SanitizeProjectID drops every character outside [0-9a-zA-Z_-].
func SanitizeProjectID(id string) string {
	return invalidProjectIDCharsRE.ReplaceAllLiteralString(id, "")
}

// Project identifies one devnet and where its state lives on the host.
type Project struct {
	ID      string
	Dir     string
	ChainID string
	// Persistent is true when the operator supplied a project id; only then
	// does state survive the process.
	Persistent bool
}

// NewProject builds a project rooted at root. An empty id yields a randomly
// named, non-persistent project.
func NewProject(root, id, chainID string) (Project, error) {
	if root == "" {
		return Project{}, errors.New("project root directory is empty")
	}
	if chainID == "" {
		return Project{}, errors.New("chain id is empty")
	}

	persistent := id != ""
	if persistent {
		id = SanitizeProjectID(id)
		if id == "" {
			return Project{}, fmt.Errorf("project id has no characters from [0-9a-zA-Z_-]")
		}
	} else {
		id = namesgenerator.GetRandomName(0)
	}

	return Project{
		ID:         id,
		Dir:        filepath.Join(root, id),
		ChainID:    chainID,
		Persistent: persistent,
	}, nil
}

// GenesisPath is the host path of the genesis file. Only meaningful for persistent projects.
func (p Project) GenesisPath() string {
	return filepath.Join(p.Dir, "config", "genesis.json")
}

// AccountsPath is the host path of the persisted account list.
func (p Project) AccountsPath() string {
	return filepath.Join(p.Dir, AccountsFileName)
}

// SnapshotDir is the host directory holding snapshot archives for all projects under the same root.
func (p Project) SnapshotDir() string {
	return filepath.Join(filepath.Dir(p.Dir), SnapshotDirName)
}

// Binding returns how the node data directory is exposed to the runtime:
// the project directory for persistent projects, the named volume otherwise.
func (p Project) Binding(volumeName string) VolumeBinding {
	if p.Persistent {
		return VolumeBinding{Type: types.MountTypeBind, Source: p.Dir}
	}
	return VolumeBinding{Type: types.MountTypeVolume, Source: volumeName}
}

// Labels tags the containers run for the project.
func (p Project) Labels() map[string]string {
	return map[string]string{ProjectLabel: p.ID}
}

// VolumeBinding is the single mount backing the node data directory.
type VolumeBinding struct {
	Type   types.MountType
	Source string
}

// Mount returns the binding mounted at the node home directory.
func (b VolumeBinding) Mount() types.Mount {
	return types.Mount{Type: b.Type, Source: b.Source, Target: NodeHomeDir}
}
