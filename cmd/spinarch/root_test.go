package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubunteroz/spinarch/framework/devnet"
)

// resolveArgs parses args on a fresh root command and resolves its config.
func resolveArgs(t *testing.T, args ...string) (devnet.Config, error) {
	t.Helper()
	cmd := rootCmd()
	require.NoError(t, cmd.ParseFlags(args))

	var f rootFlags
	f.configFile, _ = cmd.Flags().GetString("config")
	f.projectID, _ = cmd.Flags().GetString("project-id")
	f.chainID, _ = cmd.Flags().GetString("chain-id")
	f.numAccounts, _ = cmd.Flags().GetInt("num-accounts")
	f.balance, _ = cmd.Flags().GetInt64("balance")
	f.resetState, _ = cmd.Flags().GetBool("reset-state")
	f.home, _ = cmd.Flags().GetString("home")
	return f.resolve(cmd)
}

func TestResolve_Defaults(t *testing.T) {
	cfg, err := resolveArgs(t)
	require.NoError(t, err)
	require.Equal(t, devnet.DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spinarch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
project_id = "from-file"
num_accounts = 4
chain_id = "file-1"
`), 0o644))

	cfg, err := resolveArgs(t, "--config", path, "--num-accounts", "7", "--reset-state")
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.ProjectID)
	require.Equal(t, "file-1", cfg.ChainID)
	require.Equal(t, 7, cfg.NumAccounts, "flags override the file")
	require.True(t, cfg.ResetState)
	require.Equal(t, int64(devnet.DefaultBalance), cfg.Balance)
}

func TestResolve_InvalidAccountCount(t *testing.T) {
	for _, n := range []string{"0", "-2"} {
		_, err := resolveArgs(t, "--num-accounts", n)
		require.ErrorIs(t, err, devnet.ErrInvalidAccountCount)
		require.Equal(t, "config failed: number of accounts to generate must be greater than 0", errorMessage(err))
	}
}

func TestExecute_ValidationFailsBeforeRuntime(t *testing.T) {
	// an unreachable daemon would fail in the prepare phase; validation must come first.
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:1")

	cmd := rootCmd()
	cmd.SetArgs([]string{"--num-accounts", "0", "--home", t.TempDir()})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	phase, ok := devnet.PhaseOf(err)
	require.True(t, ok)
	require.Equal(t, devnet.PhaseConfig, phase)
}

func TestErrorMessage(t *testing.T) {
	err := &devnet.PhaseError{Phase: devnet.PhaseGenesis, Err: errors.New("exit 1")}
	require.Equal(t, "genesis failed: exit 1", errorMessage(err))
	require.Equal(t, "error: plain", errorMessage(errors.New("plain")))
}

func TestSnapshotsCommand(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, devnet.SnapshotDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo_2024-03-09_140507.tar"), nil, 0o644))

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs([]string{"snapshots", "--project-id", "demo", "--home", home})
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "demo_2024-03-09_140507.tar")

	cmd = rootCmd()
	cmd.SetArgs([]string{"snapshots"})
	cmd.SetOut(&out)
	require.Error(t, cmd.Execute())
}
