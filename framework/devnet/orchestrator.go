package devnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/control"
	"github.com/ubunteroz/spinarch/framework/types"
)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithAccountsOutput sets where the account listing is printed. Defaults to stdout.
func WithAccountsOutput(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.accountsOut = w
	}
}

// WithNodeOutput sets where node and one-shot command output goes. Defaults to
// the "node" logger.
func WithNodeOutput(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.nodeOut = w
	}
}

// WithClock sets the clock used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRPCProbe replaces the node readiness check.
func WithRPCProbe(probe RPCProbe) Option {
	return func(o *Orchestrator) {
		o.probe = probe
	}
}

// WithRunners replaces the node runner strategies.
func WithRunners(r Runners) Option {
	return func(o *Orchestrator) {
		o.runners = &r
	}
}

// Orchestrator brings a devnet up and serves lifecycle requests against it.
// At most one of start, stop, snapshot and restore runs at any time.
type Orchestrator struct {
	cfg     Config
	log     *zap.Logger
	runtime types.RuntimeClient
	project Project
	guard   *Guard

	store       *ConfigStore
	genesis     *GenesisInitializer
	provisioner *AccountProvisioner
	node        *NodeLifecycleController
	snapshots   *SnapshotManager

	accountsOut io.Writer
	nodeOut     io.Writer
	nodeLog     *nodeLogWriter
	now         func() time.Time
	probe       RPCProbe
	runners     *Runners

	// opCtx outlives the caller's context so that an accepted operation is
	// not torn down halfway; Shutdown cancels it.
	opCtx     context.Context
	cancelOps context.CancelFunc

	ready   atomic.Bool
	closing atomic.Bool
	wg      sync.WaitGroup

	mu       sync.Mutex
	accounts AccountSet
}

// New validates cfg and assembles an orchestrator. It does not touch the runtime.
func New(cfg Config, rt types.RuntimeClient, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, phaseError(PhaseConfig, err)
	}
	if rt == nil {
		return nil, phaseError(PhaseConfig, errors.New("runtime client is nil"))
	}
	project, err := NewProject(cfg.Home, cfg.ProjectID, cfg.ChainID)
	if err != nil {
		return nil, phaseError(PhaseConfig, err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		log:         zap.NewNop(),
		runtime:     rt,
		project:     project,
		guard:       NewGuard(),
		accountsOut: os.Stdout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.log = o.log.With(zap.String("project", project.ID), zap.Bool("persistent", project.Persistent))
	if o.nodeOut == nil {
		o.nodeLog = newNodeLogWriter(o.log.Named("node"))
		o.nodeOut = o.nodeLog
	}
	if o.probe == nil {
		o.probe = NewRPCProbe(DefaultRPCAddress(), time.Second)
	}
	o.opCtx, o.cancelOps = context.WithCancel(context.Background())

	bin := newNodeBinary(o.log.Named("binary"), rt, cfg.Image, project, cfg.VolumeName, o.nodeOut)
	o.store = NewConfigStore(project)
	o.genesis = NewGenesisInitializer(o.log.Named("genesis"), bin)
	o.provisioner = NewAccountProvisioner(o.log.Named("accounts"), bin, o.store, cfg.ValidatorStakeCoin(), o.accountsOut)

	runners := o.defaultRunners()
	if o.runners != nil {
		runners = *o.runners
	}
	o.node = NewNodeLifecycleController(o.log.Named("lifecycle"), project, bin, runners, o.probe, cfg.ReadyTimeout)
	o.snapshots = NewSnapshotManager(o.log.Named("snapshot"), rt, cfg.HelperImage, o.node, o.now)
	return o, nil
}

func (o *Orchestrator) defaultRunners() Runners {
	r := Runners{
		Container: NewContainerRunner(o.log.Named("container"), o.runtime, o.project, ContainerRunnerConfig{
			Image:         o.cfg.Image,
			ContainerName: o.cfg.ContainerName,
			VolumeName:    o.cfg.VolumeName,
			StakeDenom:    o.cfg.StakeDenom,
			Output:        o.nodeOut,
		}),
	}
	if !o.project.Persistent {
		return r
	}
	if binary, ok := LocalNodeBinary(o.cfg.NodeBinary); ok {
		r.Native = NewProcessRunner(o.log.Named("process"), binary, o.project, o.cfg.StakeDenom, o.nodeOut)
	}
	return r
}

// Project returns the devnet project.
func (o *Orchestrator) Project() Project {
	return o.project
}

// Accounts returns the provisioned accounts.
func (o *Orchestrator) Accounts() AccountSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append(AccountSet(nil), o.accounts...)
}

// State returns the node run state.
func (o *Orchestrator) State() NodeRunState {
	return o.node.State()
}

// Snapshots lists the project's snapshots.
func (o *Orchestrator) Snapshots() ([]Snapshot, error) {
	return o.snapshots.List(o.project)
}

// Bootstrap runs the startup sequence: prepare the project, ensure images,
// restore a requested snapshot, load or provision accounts around genesis
// initialization and start the node. Every failure is fatal and carries the
// phase it came from, except a failed restore which is only logged.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if !o.guard.TryAcquire() {
		return errors.New("another lifecycle operation is in progress")
	}
	defer o.guard.Release()

	if o.ready.Load() {
		return errors.New("devnet is already bootstrapped")
	}

	o.log.Info("bootstrapping devnet", zap.String("chain_id", o.project.ChainID), zap.String("dir", o.project.Dir))

	if err := o.prepare(ctx); err != nil {
		return phaseError(PhasePrepare, err)
	}
	if err := o.ensureImages(ctx); err != nil {
		return phaseError(PhaseImage, err)
	}

	if o.cfg.RestoreSnapshot != "" {
		if err := o.snapshots.Restore(ctx, o.project, o.cfg.RestoreSnapshot); err != nil {
			o.log.Error("restore failed, starting from the current state", zap.Error(err))
		}
	}

	accounts, err := o.loadAccounts()
	if err != nil {
		return phaseError(PhaseLoadAccounts, err)
	}
	if err := o.genesis.Ensure(ctx, o.project); err != nil {
		return err
	}
	accounts, err = o.provisioner.Provision(ctx, o.project, accounts, o.cfg.NumAccounts, o.cfg.BalanceCoin())
	if err != nil {
		return err
	}
	o.setAccounts(accounts)
	if v, ok := accounts.Validator(); ok {
		o.log.Info("validator account", zap.String("address", v.Address))
	}

	if err := o.node.Start(ctx, o.cfg.ResetState); err != nil {
		return err
	}

	o.ready.Store(true)
	return nil
}

func (o *Orchestrator) prepare(ctx context.Context) error {
	if o.project.Persistent {
		if err := os.MkdirAll(o.project.Dir, 0o755); err != nil {
			return fmt.Errorf("create project directory: %w", err)
		}
		return nil
	}

	// leftovers of an ephemeral run that did not shut down cleanly.
	exists, err := o.runtime.VolumeExists(ctx, o.cfg.VolumeName)
	if err != nil {
		return fmt.Errorf("inspecting volume %s: %w", o.cfg.VolumeName, err)
	}
	if exists {
		o.log.Info("removing stale volume", zap.String("volume", o.cfg.VolumeName))
		if err := o.runtime.RemoveVolume(ctx, o.cfg.VolumeName); err != nil {
			return fmt.Errorf("removing stale volume %s: %w", o.cfg.VolumeName, err)
		}
	}
	return nil
}

func (o *Orchestrator) ensureImages(ctx context.Context) error {
	if err := ensureImage(ctx, o.log, o.runtime, o.cfg.Image, o.cfg.UpdateImage); err != nil {
		return err
	}
	if o.project.Persistent {
		return ensureImage(ctx, o.log, o.runtime, o.cfg.HelperImage, false)
	}
	return nil
}

// loadAccounts reads the persisted accounts of a persistent project.
func (o *Orchestrator) loadAccounts() (AccountSet, error) {
	if !o.project.Persistent {
		return nil, nil
	}
	return o.store.Load()
}

func (o *Orchestrator) setAccounts(set AccountSet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accounts = set
}

// RequestStart starts a stopped node. It reports whether the request was accepted.
func (o *Orchestrator) RequestStart() bool {
	return o.dispatch(control.Start, func(ctx context.Context) error {
		return o.node.Start(ctx, false)
	})
}

// RequestStop stops the node. It reports whether the request was accepted.
func (o *Orchestrator) RequestStop() bool {
	return o.dispatch(control.Stop, o.node.Stop)
}

// RequestSnapshot snapshots the project state, restarting the node afterwards.
// It reports whether the request was accepted.
func (o *Orchestrator) RequestSnapshot() bool {
	return o.dispatch(control.Snapshot, func(ctx context.Context) error {
		_, err := o.snapshots.Snapshot(ctx, o.project)
		return err
	})
}

// RequestRestore stops the node, restores the named snapshot and starts the
// node again. It reports whether the request was accepted.
func (o *Orchestrator) RequestRestore(name string) bool {
	return o.dispatch(control.Restore, func(ctx context.Context) error {
		return o.restore(ctx, name)
	})
}

func (o *Orchestrator) restore(ctx context.Context, name string) error {
	if !o.project.Persistent {
		o.log.Info("snapshots are only available for persistent projects")
		return nil
	}

	if err := o.node.Stop(ctx); err != nil {
		o.log.Error("failed to stop node before restore", zap.Error(err))
	}

	restoreErr := o.snapshots.Restore(ctx, o.project, name)
	if restoreErr == nil {
		if accounts, err := o.store.Load(); err != nil {
			o.log.Warn("failed to reload accounts after restore", zap.Error(err))
		} else if len(accounts) > 0 {
			o.setAccounts(accounts)
		}
	}

	if err := ctx.Err(); err != nil {
		o.log.Warn("not restarting the node, shutting down")
		return errors.Join(restoreErr, err)
	}
	startErr := o.node.Start(ctx, false)
	return errors.Join(restoreErr, startErr)
}

// Handle dispatches a control request. Terminate is not handled here; see Run.
func (o *Orchestrator) Handle(req control.Request) bool {
	switch req.Kind {
	case control.Start:
		return o.RequestStart()
	case control.Stop:
		return o.RequestStop()
	case control.Snapshot:
		return o.RequestSnapshot()
	case control.Restore:
		return o.RequestRestore(req.Snapshot)
	default:
		return false
	}
}

func (o *Orchestrator) dispatch(kind control.Kind, op func(ctx context.Context) error) bool {
	log := o.log.With(zap.Stringer("request", kind))
	if !o.ready.Load() || o.closing.Load() {
		log.Debug("devnet is not accepting requests")
		return false
	}
	if !o.guard.TryAcquire() {
		log.Info("another operation is in progress, ignoring request")
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.guard.Release()

		log.Info("request accepted")
		if err := op(o.opCtx); err != nil {
			log.Error("request failed", zap.Error(err))
			return
		}
		log.Info("request completed")
	}()
	return true
}

// Wait blocks until every accepted request has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run serves requests until a Terminate request arrives, requests is closed
// or ctx is done, then shuts the devnet down. Shutdown failures are logged.
func (o *Orchestrator) Run(ctx context.Context, requests <-chan control.Request) error {
	for {
		select {
		case <-ctx.Done():
			o.shutdownAndLog()
			return nil
		case req, ok := <-requests:
			if !ok || req.Kind == control.Terminate {
				o.shutdownAndLog()
				return nil
			}
			o.Handle(req)
		}
	}
}

func (o *Orchestrator) shutdownAndLog() {
	if err := o.Shutdown(context.Background()); err != nil {
		o.log.Error("shutdown did not complete cleanly", zap.Error(err))
	}
}

// Shutdown stops accepting requests, cancels the operation in flight and stops
// the node. It waits for the operation at most StopTimeout; when that expires
// the node is stopped anyway within another StopTimeout.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.closing.CompareAndSwap(false, true) {
		return nil
	}
	defer o.closeNodeLog()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	defer cancel()

	o.log.Info("shutting down")
	// an accepted operation unwinds inside the grace window.
	o.cancelOps()
	if err := o.guard.Acquire(ctx); err != nil {
		o.log.Warn("operation in progress did not finish, stopping the node anyway", zap.Error(err))
		haltCtx, cancelHalt := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StopTimeout)
		defer cancelHalt()
		return errors.Join(fmt.Errorf("waiting for the operation in progress: %w", err), o.node.Halt(haltCtx))
	}
	defer o.guard.Release()

	return o.node.Halt(ctx)
}

func (o *Orchestrator) closeNodeLog() {
	if o.nodeLog == nil {
		return
	}
	if err := o.nodeLog.Close(); err != nil {
		o.log.Debug("failed to flush node output", zap.Error(err))
	}
}
