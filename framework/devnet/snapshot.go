package devnet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/types"
)

const (
	// SnapshotTimeLayout is the timestamp part of snapshot names.
	SnapshotTimeLayout = "2006-01-02_150405"
	snapshotExt        = ".tar"

	helperSnapshotDir = "/snapshots"
	helperStateDir    = "/state"
)

var snapshotNameRE = regexp.MustCompile(`^[0-9A-Za-z_.-]+$`)

// Snapshot is an archive of a project's state directory.
type Snapshot struct {
	Name        string
	ProjectID   string
	CreatedAt   time.Time
	ArchivePath string
}

// SnapshotName returns the archive name of a snapshot taken at t.
func SnapshotName(projectID string, t time.Time) string {
	return projectID + "_" + t.Format(SnapshotTimeLayout) + snapshotExt
}

// NormalizeSnapshotName validates a user supplied archive name and adds the
// .tar extension when it is missing.
func NormalizeSnapshotName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || !snapshotNameRE.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSnapshotName, name)
	}
	if !strings.HasSuffix(name, snapshotExt) {
		name += snapshotExt
	}
	return name, nil
}

// SnapshotManager archives and restores the state directory of persistent
// projects with short-lived helper containers.
type SnapshotManager struct {
	log         *zap.Logger
	runtime     types.RuntimeClient
	helperImage string
	node        *NodeLifecycleController
	now         func() time.Time
}

func NewSnapshotManager(log *zap.Logger, rt types.RuntimeClient, helperImage string, node *NodeLifecycleController, now func() time.Time) *SnapshotManager {
	if now == nil {
		now = time.Now
	}
	return &SnapshotManager{
		log:         log,
		runtime:     rt,
		helperImage: helperImage,
		node:        node,
		now:         now,
	}
}

func (m *SnapshotManager) helperMounts(project Project) []types.Mount {
	return []types.Mount{
		{Type: types.MountTypeBind, Source: project.SnapshotDir(), Target: helperSnapshotDir},
		{Type: types.MountTypeBind, Source: project.Dir, Target: helperStateDir},
	}
}

// Snapshot stops the node, archives the state directory and starts the node
// again. The restart is attempted after a failed stop or archive too, unless
// ctx is done. The caller holds the lifecycle guard.
func (m *SnapshotManager) Snapshot(ctx context.Context, project Project) (Snapshot, error) {
	if !project.Persistent {
		m.log.Info("snapshots are only available for persistent projects")
		return Snapshot{}, nil
	}

	if err := m.node.Stop(ctx); err != nil {
		m.log.Error("failed to stop node before snapshot", zap.Error(err))
	}

	snap, archiveErr := m.archive(ctx, project)
	if archiveErr != nil {
		m.log.Error("snapshot failed", zap.Error(archiveErr))
	} else {
		m.log.Info("snapshot saved", zap.String("path", snap.ArchivePath))
	}

	if err := ctx.Err(); err != nil {
		m.log.Warn("not restarting the node, operation cancelled")
		return snap, errors.Join(archiveErr, err)
	}
	startErr := m.node.Start(ctx, false)
	if startErr != nil {
		m.log.Error("failed to restart node after snapshot", zap.Error(startErr))
	}
	return snap, errors.Join(archiveErr, startErr)
}

func (m *SnapshotManager) archive(ctx context.Context, project Project) (Snapshot, error) {
	dir := project.SnapshotDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Snapshot{}, phaseError(PhaseSnapshot, fmt.Errorf("create snapshot directory: %w", err))
	}

	createdAt := m.now()
	name := SnapshotName(project.ID, createdAt)
	m.log.Info("creating snapshot", zap.String("name", name))

	cmd := []string{"tar", "cf", helperSnapshotDir + "/" + name, "-C", helperStateDir, "."}
	if _, err := m.runtime.Run(ctx, types.RunOptions{
		Image:           m.helperImage,
		Cmd:             cmd,
		Mounts:          m.helperMounts(project),
		NetworkDisabled: true,
		Labels:          project.Labels(),
	}); err != nil {
		return Snapshot{}, phaseError(PhaseSnapshot, err)
	}

	return Snapshot{
		Name:        name,
		ProjectID:   project.ID,
		CreatedAt:   createdAt,
		ArchivePath: filepath.Join(dir, name),
	}, nil
}

// Restore replaces the state directory with the content of the named archive.
// The node must be stopped and is not restarted. The caller holds the
// lifecycle guard.
func (m *SnapshotManager) Restore(ctx context.Context, project Project, name string) error {
	if !project.Persistent {
		m.log.Info("snapshots are only available for persistent projects")
		return nil
	}

	name, err := NormalizeSnapshotName(name)
	if err != nil {
		return phaseError(PhaseRestore, err)
	}
	archive := filepath.Join(project.SnapshotDir(), name)
	if _, err := os.Stat(archive); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return phaseError(PhaseRestore, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name))
		}
		return phaseError(PhaseRestore, err)
	}
	if err := os.MkdirAll(project.Dir, 0o755); err != nil {
		return phaseError(PhaseRestore, fmt.Errorf("create project directory: %w", err))
	}

	m.log.Info("restoring snapshot", zap.String("name", name))
	script := fmt.Sprintf("find %[1]s -mindepth 1 -maxdepth 1 -exec rm -rf {} + && tar xf %[2]s/%[3]s -C %[1]s",
		helperStateDir, helperSnapshotDir, name)
	if _, err := m.runtime.Run(ctx, types.RunOptions{
		Image:           m.helperImage,
		Cmd:             []string{"sh", "-c", script},
		Mounts:          m.helperMounts(project),
		NetworkDisabled: true,
		Labels:          project.Labels(),
	}); err != nil {
		return phaseError(PhaseRestore, err)
	}
	m.log.Info("snapshot restored", zap.String("name", name))
	return nil
}

// List returns the project's snapshots ordered by name, oldest first.
func (m *SnapshotManager) List(project Project) ([]Snapshot, error) {
	return ListSnapshots(project)
}

// ListSnapshots returns the project's snapshots ordered by name, oldest first.
func ListSnapshots(project Project) ([]Snapshot, error) {
	dir := project.SnapshotDir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	prefix := project.ID + "_"
	var snaps []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), snapshotExt)
		createdAt, err := time.ParseInLocation(SnapshotTimeLayout, stamp, time.Local)
		if err != nil {
			// belongs to another project whose id shares this prefix.
			continue
		}
		snaps = append(snaps, Snapshot{
			Name:        name,
			ProjectID:   project.ID,
			CreatedAt:   createdAt,
			ArchivePath: filepath.Join(dir, name),
		})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps, nil
}
