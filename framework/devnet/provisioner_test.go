package devnet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestProvisioner(t *testing.T, rt *fakeRuntime, project Project, listing *bytes.Buffer) *AccountProvisioner {
	t.Helper()
	var w io.Writer
	if listing != nil {
		w = listing
	}
	return NewAccountProvisioner(zaptest.NewLogger(t), testBinary(t, rt, project), NewConfigStore(project), DefaultConfig().ValidatorStakeCoin(), w)
}

func TestAccountProvisioner_Fresh(t *testing.T) {
	for _, count := range []int{1, 2, 5} {
		t.Run(strconv.Itoa(count), func(t *testing.T) {
			rt := newFakeRuntime()
			project := persistentProject(t)
			var listing bytes.Buffer
			p := newTestProvisioner(t, rt, project, &listing)

			set, err := p.Provision(context.Background(), project, nil, count, DefaultConfig().BalanceCoin())
			require.NoError(t, err)
			require.Len(t, set, count)
			for i, acc := range set {
				require.Equal(t, i, acc.Index)
				require.Equal(t, strconv.Itoa(i), acc.Name)
				require.Equal(t, testAddress(i), acc.Address)
			}
			v, ok := set.Validator()
			require.True(t, ok)
			require.True(t, v.IsValidator())

			stored, err := NewConfigStore(project).Load()
			require.NoError(t, err)
			require.Equal(t, set, stored)

			require.Contains(t, listing.String(), "(0) "+testAddress(0)+" (validator)")
		})
	}
}

func TestAccountProvisioner_CommandOrder(t *testing.T) {
	rt := newFakeRuntime()
	project := persistentProject(t)
	p := newTestProvisioner(t, rt, project, nil)

	_, err := p.Provision(context.Background(), project, nil, 2, DefaultConfig().BalanceCoin())
	require.NoError(t, err)

	require.Equal(t, []string{
		"keys add 0 --keyring-backend test --output json",
		"keys add 1 --keyring-backend test --output json",
		"add-genesis-account 0 1000000000stake --keyring-backend test",
		"add-genesis-account 1 1000000000stake --keyring-backend test",
		"gentx 0 100000000stake --chain-id spinarch-1 --keyring-backend test",
		"collect-gentxs",
	}, rt.commands())

	// only gentx gets network access
	for _, run := range rt.runs {
		require.Equal(t, run.Cmd[0] != "gentx", run.NetworkDisabled, run.Cmd)
	}
}

func TestAccountProvisioner_ExistingSetIsReturnedUnchanged(t *testing.T) {
	rt := newFakeRuntime()
	project := persistentProject(t)
	var listing bytes.Buffer
	p := newTestProvisioner(t, rt, project, &listing)

	existing := AccountSet{
		{Index: 0, Name: "0", Address: testAddress(7), Mnemonic: "persisted zero"},
		{Index: 1, Name: "1", Address: testAddress(8), Mnemonic: "persisted one"},
	}
	set, err := p.Provision(context.Background(), project, existing, 10, DefaultConfig().BalanceCoin())
	require.NoError(t, err)
	require.Equal(t, existing, set)
	require.Empty(t, rt.commands())
	require.Contains(t, listing.String(), "persisted zero")
}

func TestAccountProvisioner_FailureLeavesNothingPersisted(t *testing.T) {
	rt := newFakeRuntime()
	rt.failOn("keys add 1", errors.New("keyring locked"))
	project := persistentProject(t)
	p := newTestProvisioner(t, rt, project, nil)

	set, err := p.Provision(context.Background(), project, nil, 3, DefaultConfig().BalanceCoin())
	require.Error(t, err)
	require.Nil(t, set)

	phase, ok := PhaseOf(err)
	require.True(t, ok)
	require.Equal(t, PhaseAccounts, phase)

	require.NoFileExists(t, project.AccountsPath())
	require.Equal(t, 0, rt.countRuns("add-genesis-account"))
	require.Equal(t, 0, rt.countRuns("gentx"))
}

func TestAccountProvisioner_GentxFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.failOn("gentx", errors.New("insufficient funds"))
	project := persistentProject(t)
	p := newTestProvisioner(t, rt, project, nil)

	_, err := p.Provision(context.Background(), project, nil, 2, DefaultConfig().BalanceCoin())
	require.ErrorContains(t, err, "insufficient funds")
	require.NoFileExists(t, project.AccountsPath())
	require.Equal(t, 0, rt.countRuns("collect-gentxs"))
}

func TestAccountProvisioner_EphemeralDoesNotPersist(t *testing.T) {
	rt := newFakeRuntime()
	project := ephemeralProject(t)
	p := newTestProvisioner(t, rt, project, nil)

	set, err := p.Provision(context.Background(), project, nil, 2, DefaultConfig().BalanceCoin())
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.NoFileExists(t, project.AccountsPath())
}

func TestAccountProvisioner_InvalidCount(t *testing.T) {
	rt := newFakeRuntime()
	project := persistentProject(t)
	p := newTestProvisioner(t, rt, project, nil)

	_, err := p.Provision(context.Background(), project, nil, 0, DefaultConfig().BalanceCoin())
	require.ErrorIs(t, err, ErrInvalidAccountCount)
	require.Empty(t, rt.commands())
}
