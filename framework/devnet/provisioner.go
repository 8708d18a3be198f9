package devnet

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"
)

// AccountProvisioner generates and funds the test accounts of a project.
type AccountProvisioner struct {
	log   *zap.Logger
	bin   *nodeBinary
	store *ConfigStore
	// listing receives the human-readable account listing.
	listing io.Writer
	stake   sdk.Coin
}

func NewAccountProvisioner(log *zap.Logger, bin *nodeBinary, store *ConfigStore, stake sdk.Coin, listing io.Writer) *AccountProvisioner {
	return &AccountProvisioner{
		log:     log,
		bin:     bin,
		store:   store,
		listing: listing,
		stake:   stake,
	}
}

// Provision returns set unchanged when it is not empty. Otherwise it generates
// count keys, funds each with balance, creates the validator gentx from key 0,
// collects it into genesis and, for persistent projects, saves the accounts.
// The account listing is printed in both cases.
func (p *AccountProvisioner) Provision(ctx context.Context, project Project, set AccountSet, count int, balance sdk.Coin) (AccountSet, error) {
	if len(set) > 0 {
		p.log.Debug("accounts already provisioned", zap.Int("count", len(set)))
		p.list(set)
		return set, nil
	}
	if count < 1 {
		return nil, phaseError(PhaseAccounts, ErrInvalidAccountCount)
	}

	generated, err := p.generate(ctx, project, count, balance)
	if err != nil {
		return nil, phaseError(PhaseAccounts, err)
	}

	if project.Persistent {
		if err := p.store.Save(generated); err != nil {
			return nil, phaseError(PhaseAccounts, fmt.Errorf("persisting accounts: %w", err))
		}
		p.log.Info("accounts saved", zap.String("path", p.store.Path()))
	}
	p.list(generated)
	return generated, nil
}

func (p *AccountProvisioner) generate(ctx context.Context, project Project, count int, balance sdk.Coin) (AccountSet, error) {
	p.log.Info("generating accounts", zap.Int("count", count))
	set := make(AccountSet, 0, count)
	for i := 0; i < count; i++ {
		acc, err := p.createKey(ctx, i)
		if err != nil {
			return nil, err
		}
		set = append(set, acc)
	}

	p.log.Info("adding accounts to the genesis file", zap.Int("count", count), zap.Stringer("balance", balance))
	for i := 0; i < count; i++ {
		if err := p.addGenesisAccount(ctx, i, balance); err != nil {
			return nil, err
		}
	}

	p.log.Info("creating validator", zap.Stringer("stake", p.stake))
	args := append([]string{"gentx", "0", p.stake.String(), "--chain-id", project.ChainID}, keyringArgs()...)
	if _, err := p.bin.exec(ctx, true, args...); err != nil {
		return nil, err
	}

	p.log.Info("collecting gentxs")
	if _, err := p.bin.exec(ctx, false, "collect-gentxs"); err != nil {
		return nil, err
	}
	return set, nil
}

// createKey adds key index to the test keyring and parses the emitted account.
func (p *AccountProvisioner) createKey(ctx context.Context, index int) (Account, error) {
	args := append([]string{"keys", "add", strconv.Itoa(index)}, keyringArgs()...)
	args = append(args, "--output", "json")

	res, err := p.bin.exec(ctx, false, args...)
	if err != nil {
		return Account{}, err
	}
	// depending on the sdk version the key JSON goes to stdout or stderr.
	out := res.Stdout
	if len(out) == 0 {
		out = res.Stderr
	}
	return parseKeyOutput(index, out)
}

func (p *AccountProvisioner) addGenesisAccount(ctx context.Context, index int, balance sdk.Coin) error {
	// only edits genesis.json; a minute is plenty.
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	args := append([]string{"add-genesis-account", strconv.Itoa(index), balance.String()}, keyringArgs()...)
	_, err := p.bin.exec(ctx, false, args...)
	return err
}

func (p *AccountProvisioner) list(set AccountSet) {
	if p.listing == nil {
		return
	}
	if err := WriteAccounts(p.listing, set); err != nil {
		p.log.Warn("failed to print accounts", zap.Error(err))
	}
}
