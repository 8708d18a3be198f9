package devnet

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ubunteroz/spinarch/framework/types"
)

// fakeRuntime records every call and emulates the node binary and the helper
// container commands against bind-mounted host directories.
type fakeRuntime struct {
	mu      sync.Mutex
	runs    []types.RunOptions
	starts  []types.RunOptions
	stops   []string
	pulls   []string
	removed []string
	volumes map[string]bool
	images  map[string]bool

	// failures are keyed by the command name, or by the first three words of
	// the command, or by a method name such as "Start".
	failures map[string]error
	// blocked commands wait for their channel to close; entered is signalled first.
	blocked map[string]chan struct{}
	entered chan string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		volumes:  map[string]bool{},
		images:   map[string]bool{DefaultImage: true, DefaultHelperImage: true},
		failures: map[string]error{},
		blocked:  map[string]chan struct{}{},
		entered:  make(chan string, 16),
	}
}

func (f *fakeRuntime) failOn(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = err
}

func (f *fakeRuntime) block(cmd string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.blocked[cmd] = ch
	return ch
}

func (f *fakeRuntime) failure(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		if err, ok := f.failures[k]; ok {
			return err
		}
	}
	return nil
}

// commands returns the recorded one-shot commands joined with spaces.
func (f *fakeRuntime) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, strings.Join(r.Cmd, " "))
	}
	return out
}

// countRuns counts the one-shot commands named name.
func (f *fakeRuntime) countRuns(name string) int {
	n := 0
	for _, c := range f.commands() {
		if strings.HasPrefix(c, name+" ") || c == name {
			n++
		}
	}
	return n
}

func (f *fakeRuntime) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs) + len(f.starts) + len(f.stops) + len(f.pulls) + len(f.removed)
}

func (f *fakeRuntime) markVolumes(mounts []types.Mount) {
	for _, m := range mounts {
		if m.Type == types.MountTypeVolume {
			f.volumes[m.Source] = true
		}
	}
}

func (f *fakeRuntime) Run(ctx context.Context, opts types.RunOptions) (types.ExecResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, opts)
	f.markVolumes(opts.Mounts)
	var ch chan struct{}
	if len(opts.Cmd) > 0 {
		ch = f.blocked[opts.Cmd[0]]
	}
	f.mu.Unlock()

	if len(opts.Cmd) == 0 {
		return types.ExecResult{}, fmt.Errorf("empty command")
	}
	if ch != nil {
		f.entered <- opts.Cmd[0]
		select {
		case <-ch:
		case <-ctx.Done():
			return types.ExecResult{}, ctx.Err()
		}
	}

	keys := []string{opts.Cmd[0]}
	if len(opts.Cmd) >= 3 {
		keys = append([]string{strings.Join(opts.Cmd[:3], " ")}, keys...)
	}
	if err := f.failure(keys...); err != nil {
		return types.ExecResult{ExitCode: 1}, &types.ExitError{Cmd: opts.Cmd, Code: 1, Stderr: err.Error()}
	}

	switch opts.Cmd[0] {
	case "init":
		return types.ExecResult{}, emulateInit(opts)
	case "keys":
		out, err := emulateKeysAdd(opts.Cmd)
		return types.ExecResult{Stdout: out}, err
	case "tar":
		return types.ExecResult{}, emulateArchive(opts)
	case "sh":
		return types.ExecResult{}, emulateRestore(opts)
	}
	return types.ExecResult{}, nil
}

func (f *fakeRuntime) Start(_ context.Context, opts types.RunOptions) (string, error) {
	f.mu.Lock()
	f.starts = append(f.starts, opts)
	f.markVolumes(opts.Mounts)
	f.mu.Unlock()
	if err := f.failure("Start"); err != nil {
		return "", err
	}
	return "container-id", nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	f.stops = append(f.stops, name)
	f.mu.Unlock()
	return f.failure("Stop")
}

func (f *fakeRuntime) VolumeExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name], nil
}

func (f *fakeRuntime) RemoveVolume(_ context.Context, name string) error {
	if err := f.failure("RemoveVolume"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	delete(f.volumes, name)
	return nil
}

func (f *fakeRuntime) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[ref], nil
}

func (f *fakeRuntime) PullImage(_ context.Context, ref string) error {
	if err := f.failure("PullImage"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, ref)
	f.images[ref] = true
	return nil
}

// hostPath maps a container path onto the bind mount that contains it.
func hostPath(mounts []types.Mount, p string) (string, bool) {
	for _, m := range mounts {
		if m.Type != types.MountTypeBind {
			continue
		}
		if p == m.Target || strings.HasPrefix(p, m.Target+"/") {
			return filepath.Join(m.Source, strings.TrimPrefix(p, m.Target)), true
		}
	}
	return "", false
}

func emulateInit(opts types.RunOptions) error {
	dir, ok := hostPath(opts.Mounts, NodeHomeDir)
	if !ok {
		return nil
	}
	path := filepath.Join(dir, "config", "genesis.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(`{"chain_id":"`+opts.Cmd[len(opts.Cmd)-1]+`"}`), 0o644)
}

func testAddress(index int) string {
	addr, err := bech32.ConvertAndEncode("archway", bytes.Repeat([]byte{byte(index + 1)}, 20))
	if err != nil {
		panic(err)
	}
	return addr
}

func testMnemonic(index int) string {
	return "abandon ability able about above absent absorb abstract absurd abuse access " + strconv.Itoa(index)
}

func emulateKeysAdd(cmd []string) ([]byte, error) {
	if len(cmd) < 3 || cmd[1] != "add" {
		return nil, nil
	}
	index, err := strconv.Atoi(cmd[2])
	if err != nil {
		return nil, err
	}
	return json.Marshal(keyOutput{
		Name:     cmd[2],
		Type:     "local",
		Address:  testAddress(index),
		PubKey:   `{"@type":"/cosmos.crypto.secp256k1.PubKey"}`,
		Mnemonic: testMnemonic(index),
	})
}

func emulateArchive(opts types.RunOptions) error {
	// tar cf <archive> -C <dir> .
	if len(opts.Cmd) != 6 {
		return fmt.Errorf("unexpected tar command %v", opts.Cmd)
	}
	archive, ok := hostPath(opts.Mounts, opts.Cmd[2])
	if !ok {
		return fmt.Errorf("archive path %s is not mounted", opts.Cmd[2])
	}
	dir, ok := hostPath(opts.Mounts, opts.Cmd[4])
	if !ok {
		return fmt.Errorf("state path %s is not mounted", opts.Cmd[4])
	}
	return writeTar(dir, archive)
}

var restoreScriptRE = regexp.MustCompile(`^find (\S+) -mindepth 1 -maxdepth 1 -exec rm -rf \{\} \+ && tar xf (\S+) -C (\S+)$`)

func emulateRestore(opts types.RunOptions) error {
	m := restoreScriptRE.FindStringSubmatch(opts.Cmd[len(opts.Cmd)-1])
	if m == nil {
		return fmt.Errorf("unexpected restore script %q", opts.Cmd[len(opts.Cmd)-1])
	}
	state, ok := hostPath(opts.Mounts, m[1])
	if !ok {
		return fmt.Errorf("state path %s is not mounted", m[1])
	}
	archive, ok := hostPath(opts.Mounts, m[2])
	if !ok {
		return fmt.Errorf("archive path %s is not mounted", m[2])
	}

	entries, err := os.ReadDir(state)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(state, e.Name())); err != nil {
			return err
		}
	}
	return extractTar(archive, state)
}

func writeTar(dir, archive string) error {
	f, err := os.Create(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func extractTar(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, os.FileMode(hdr.Mode).Perm()); err != nil {
			return err
		}
	}
}

// readTree returns the regular files under dir keyed by relative path.
func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fakeRunner is a NodeRunner that records the order of calls.
type fakeRunner struct {
	kind string

	mu       sync.Mutex
	running  bool
	calls    []string
	startErr error
	stopErr  error

	// startGate, when set, holds Start until it is closed, ignoring ctx.
	startGate    chan struct{}
	startEntered chan struct{}
}

func newFakeRunner(kind string) *fakeRunner {
	return &fakeRunner{kind: kind}
}

func (r *fakeRunner) Kind() string {
	return r.kind
}

func (r *fakeRunner) Start(context.Context) error {
	r.mu.Lock()
	r.calls = append(r.calls, "start")
	gate, entered := r.startGate, r.startEntered
	r.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.running = true
	return nil
}

func (r *fakeRunner) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "stop")
	r.running = false
	return r.stopErr
}

func (r *fakeRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// holdStart makes the next starts block until release is closed. The returned
// channel receives once per blocked start.
func (r *fakeRunner) holdStart() (entered <-chan struct{}, release chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startGate = make(chan struct{})
	r.startEntered = make(chan struct{}, 4)
	return r.startEntered, r.startGate
}

// exit simulates the node dying without a Stop.
func (r *fakeRunner) exit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *fakeRunner) setStartErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

func (r *fakeRunner) setStopErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopErr = err
}

func persistentProject(t *testing.T) Project {
	t.Helper()
	p, err := NewProject(filepath.Join(t.TempDir(), "projects"), "myproj", DefaultChainID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.Dir, 0o755))
	return p
}

func ephemeralProject(t *testing.T) Project {
	t.Helper()
	p, err := NewProject(filepath.Join(t.TempDir(), "projects"), "", DefaultChainID)
	require.NoError(t, err)
	return p
}

func testBinary(t *testing.T, rt types.RuntimeClient, project Project) *nodeBinary {
	t.Helper()
	return newNodeBinary(zaptest.NewLogger(t), rt, DefaultImage, project, DefaultVolumeName, io.Discard)
}

// testController returns a controller whose container runner is fake.
func testController(t *testing.T, rt types.RuntimeClient, project Project, runners Runners) *NodeLifecycleController {
	t.Helper()
	return NewNodeLifecycleController(zaptest.NewLogger(t), project, testBinary(t, rt, project), runners, nil, 0)
}

// testConfig returns a valid config rooted in a temporary directory.
func testConfig(t *testing.T, projectID string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Home = filepath.Join(t.TempDir(), "spinarch")
	cfg.ProjectID = projectID
	cfg.NumAccounts = 3
	cfg.ReadyTimeout = 0
	cfg.StopTimeout = 5 * time.Second
	return cfg
}

// waitEntered waits until the blocked command cmd has been entered.
func waitEntered(t *testing.T, rt *fakeRuntime, cmd string) {
	t.Helper()
	select {
	case got := <-rt.entered:
		require.Equal(t, cmd, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s to run", cmd)
	}
}
