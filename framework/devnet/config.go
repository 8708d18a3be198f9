package devnet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/BurntSushi/toml"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

const (
	DefaultChainID        = "spinarch-1"
	DefaultNumAccounts    = 10
	DefaultBalance        = 1_000_000_000
	DefaultValidatorStake = 100_000_000
	DefaultStakeDenom     = "stake"
	DefaultImage          = "archwaynetwork/archwayd"
	DefaultHelperImage    = "alpine:latest"
	DefaultContainerName  = "spinarch_archwayd"
	DefaultVolumeName     = "vol_spinarch"
	DefaultStopTimeout    = 30 * time.Second
	DefaultReadyTimeout   = time.Minute

	// RPCPort is the node RPC port, published on loopback only.
	RPCPort = "26657"
	// RPCHost is the host address the RPC port is published on.
	RPCHost = "127.0.0.1"
)

// Config holds everything the orchestrator needs to bring up a devnet.
type Config struct {
	// ProjectID selects a persistent project. Empty means a random, temporary one.
	ProjectID string `toml:"project_id"`
	ChainID   string `toml:"chain_id"`
	// NumAccounts is the number of funded accounts to generate, the first being the validator.
	NumAccounts int `toml:"num_accounts"`
	// Balance is the genesis balance of every account, in StakeDenom.
	Balance        int64  `toml:"balance"`
	ValidatorStake int64  `toml:"validator_stake"`
	StakeDenom     string `toml:"stake_denom"`
	UpdateImage    bool   `toml:"update_image"`
	ResetState     bool   `toml:"reset_state"`
	// RestoreSnapshot, if set, is restored into the project before the node starts.
	RestoreSnapshot string `toml:"restore_snapshot"`

	// Home is the root holding project directories and the snapshot directory.
	Home          string `toml:"home"`
	Image         string `toml:"image"`
	HelperImage   string `toml:"helper_image"`
	ContainerName string `toml:"container_name"`
	VolumeName    string `toml:"volume_name"`
	// NodeBinary is a host node binary used instead of a container for persistent projects.
	NodeBinary string `toml:"node_binary"`

	StopTimeout  time.Duration `toml:"stop_timeout"`
	ReadyTimeout time.Duration `toml:"ready_timeout"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		ChainID:        DefaultChainID,
		NumAccounts:    DefaultNumAccounts,
		Balance:        DefaultBalance,
		ValidatorStake: DefaultValidatorStake,
		StakeDenom:     DefaultStakeDenom,
		Home:           defaultHome(),
		Image:          DefaultImage,
		HelperImage:    DefaultHelperImage,
		ContainerName:  DefaultContainerName,
		VolumeName:     DefaultVolumeName,
		StopTimeout:    DefaultStopTimeout,
		ReadyTimeout:   DefaultReadyTimeout,
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spinarch"
	}
	return filepath.Join(home, ".spinarch")
}

// Validate checks the configuration without touching the container runtime.
func (c Config) Validate() error {
	if c.NumAccounts < 1 {
		return ErrInvalidAccountCount
	}
	if c.Balance <= 0 {
		return errors.New("account balance must be greater than 0")
	}
	if c.ValidatorStake <= 0 {
		return errors.New("validator stake must be greater than 0")
	}
	if c.ValidatorStake > c.Balance {
		return fmt.Errorf("validator stake %d exceeds the validator balance %d", c.ValidatorStake, c.Balance)
	}
	if err := sdk.ValidateDenom(c.StakeDenom); err != nil {
		return fmt.Errorf("stake denom: %w", err)
	}
	if strings.TrimSpace(c.ChainID) == "" {
		return errors.New("chain id is empty")
	}
	if c.Home == "" {
		return errors.New("home directory is empty")
	}
	if c.Image == "" || c.HelperImage == "" {
		return errors.New("node and helper images must be set")
	}
	if c.ContainerName == "" || c.VolumeName == "" {
		return errors.New("container and volume names must be set")
	}
	if c.StopTimeout <= 0 {
		return errors.New("stop timeout must be greater than 0")
	}
	if c.ReadyTimeout < 0 {
		return errors.New("ready timeout must not be negative")
	}
	return nil
}

// BalanceCoin is the genesis balance of each account.
func (c Config) BalanceCoin() sdk.Coin {
	return sdk.NewCoin(c.StakeDenom, sdkmath.NewInt(c.Balance))
}

// ValidatorStakeCoin is the self-delegation of the validator's gentx.
func (c Config) ValidatorStakeCoin() sdk.Coin {
	return sdk.NewCoin(c.StakeDenom, sdkmath.NewInt(c.ValidatorStake))
}

// LoadConfigFile decodes a TOML file over cfg. Keys absent from the file keep
// their current value; unknown keys are an error.
func LoadConfigFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}
