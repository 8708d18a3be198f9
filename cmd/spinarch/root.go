package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ubunteroz/spinarch/framework/control"
	"github.com/ubunteroz/spinarch/framework/devnet"
	"github.com/ubunteroz/spinarch/framework/docker"
)

type rootFlags struct {
	configFile  string
	projectID   string
	chainID     string
	numAccounts int
	balance     int64
	updateImage bool
	resetState  bool
	home        string
	image       string
	nodeBinary  string
	restore     string
	logLevel    string
	noStdin     bool
}

func rootCmd() *cobra.Command {
	var f rootFlags
	defaults := devnet.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "spinarch",
		Short:         "Run a single-node Archway devnet",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "TOML file with devnet settings")
	flags.StringVarP(&f.projectID, "project-id", "p", "", "Project id; state persists across runs when set")
	flags.StringVar(&f.chainID, "chain-id", defaults.ChainID, "Chain id")
	flags.IntVarP(&f.numAccounts, "num-accounts", "n", defaults.NumAccounts, "Number of accounts to generate")
	flags.Int64VarP(&f.balance, "balance", "b", defaults.Balance, "Genesis balance of each account")
	flags.BoolVar(&f.updateImage, "update-image", false, "Pull the node image even when it is present")
	flags.BoolVar(&f.resetState, "reset-state", false, "Reset chain data to genesis before starting")
	flags.StringVar(&f.home, "home", defaults.Home, "Root directory of project state")
	flags.StringVar(&f.image, "image", defaults.Image, "Node image")
	flags.StringVar(&f.nodeBinary, "node-binary", "", "Run this host binary instead of a container (persistent projects only)")
	flags.StringVar(&f.restore, "restore", "", "Snapshot to restore before starting")
	flags.BoolVar(&f.noStdin, "no-stdin", false, "Do not read commands from stdin")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "Log level")

	cmd.AddCommand(snapshotsCmd(&f))
	return cmd
}

// resolve layers defaults, the config file and explicitly set flags, then
// validates the result.
func (f rootFlags) resolve(cmd *cobra.Command) (devnet.Config, error) {
	cfg := devnet.DefaultConfig()
	if f.configFile != "" {
		if err := devnet.LoadConfigFile(f.configFile, &cfg); err != nil {
			return cfg, &devnet.PhaseError{Phase: devnet.PhaseConfig, Err: err}
		}
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("project-id", func() { cfg.ProjectID = f.projectID })
	set("chain-id", func() { cfg.ChainID = f.chainID })
	set("num-accounts", func() { cfg.NumAccounts = f.numAccounts })
	set("balance", func() { cfg.Balance = f.balance })
	set("update-image", func() { cfg.UpdateImage = f.updateImage })
	set("reset-state", func() { cfg.ResetState = f.resetState })
	set("home", func() { cfg.Home = f.home })
	set("image", func() { cfg.Image = f.image })
	set("node-binary", func() { cfg.NodeBinary = f.nodeBinary })
	set("restore", func() { cfg.RestoreSnapshot = f.restore })

	if err := cfg.Validate(); err != nil {
		return cfg, &devnet.PhaseError{Phase: devnet.PhaseConfig, Err: err}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg devnet.Config, f rootFlags) error {
	log, err := newLogger(f.logLevel)
	if err != nil {
		return &devnet.PhaseError{Phase: devnet.PhaseConfig, Err: err}
	}
	defer func() { _ = log.Sync() }()

	cli, err := docker.NewClient(ctx)
	if err != nil {
		return &devnet.PhaseError{Phase: devnet.PhasePrepare, Err: err}
	}
	defer cli.Close()

	orch, err := devnet.New(cfg, docker.NewRuntime(log, cli), devnet.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan control.Request)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return control.WatchSignals(gctx, log.Named("signals"), requests)
	})
	if !f.noStdin {
		// a blocked stdin read cannot be interrupted, so the reader is not part of the group.
		go func() {
			if err := control.ReadLines(gctx, log.Named("stdin"), os.Stdin, requests); err != nil {
				log.Debug("stdin reader stopped", zap.Error(err))
			}
		}()
	}

	g.Go(func() error {
		defer cancel()

		interrupted, err := bootstrap(gctx, orch, requests)
		if interrupted {
			log.Info("interrupted during startup")
			if err := orch.Shutdown(context.Background()); err != nil {
				log.Error("shutdown did not complete cleanly", zap.Error(err))
			}
			return nil
		}
		if err != nil {
			if stopErr := orch.Shutdown(context.Background()); stopErr != nil {
				log.Error("cleanup after failed startup did not complete", zap.Error(stopErr))
			}
			return err
		}

		project := orch.Project()
		log.Info("devnet is running",
			zap.String("project", project.ID),
			zap.String("rpc", devnet.DefaultRPCAddress()),
		)
		if !f.noStdin {
			fmt.Fprintln(os.Stderr, "commands: start | stop | snapshot | restore <name> | quit")
		}
		return orch.Run(gctx, requests)
	})

	return g.Wait()
}

// bootstrap runs the startup sequence while watching for a terminate request,
// which cancels it.
func bootstrap(ctx context.Context, orch *devnet.Orchestrator, requests <-chan control.Request) (bool, error) {
	bootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var interrupted atomic.Bool
	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		for {
			select {
			case <-done:
				return
			case req := <-requests:
				if req.Kind == control.Terminate {
					interrupted.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	err := orch.Bootstrap(bootCtx)
	close(done)
	<-watcherDone
	return interrupted.Load(), err
}
