package devnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ubunteroz/spinarch/framework/types"
)

// lateStopTimeout bounds stopping a node whose start finished after Halt.
const lateStopTimeout = 10 * time.Second

var errHalted = errors.New("node controller is halted")

// Runners are the node runner strategies available to a controller. Native is
// nil when no host binary can be used.
type Runners struct {
	Container types.NodeRunner
	Native    types.NodeRunner
}

// NodeLifecycleController starts and stops the node and owns its run state.
// Callers serialize Start and Stop through the orchestrator guard.
type NodeLifecycleController struct {
	log          *zap.Logger
	project      Project
	bin          *nodeBinary
	runners      Runners
	probe        RPCProbe
	readyTimeout time.Duration

	mu     sync.Mutex
	state  NodeRunState
	active types.NodeRunner
	halted bool
}

func NewNodeLifecycleController(
	log *zap.Logger,
	project Project,
	bin *nodeBinary,
	runners Runners,
	probe RPCProbe,
	readyTimeout time.Duration,
) *NodeLifecycleController {
	return &NodeLifecycleController{
		log:          log,
		project:      project,
		bin:          bin,
		runners:      runners,
		probe:        probe,
		readyTimeout: readyTimeout,
	}
}

// State returns the current node run state.
func (c *NodeLifecycleController) State() NodeRunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()
	return c.state
}

// Runner returns the runner of the running node, nil when stopped.
func (c *NodeLifecycleController) Runner() types.NodeRunner {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()
	return c.active
}

// reconcile marks the node stopped when its runner exited on its own.
// c.mu must be held.
func (c *NodeLifecycleController) reconcile() {
	if c.state != NodeRunning || c.active == nil || c.active.IsRunning() {
		return
	}
	c.log.Warn("node exited on its own", zap.String("runner", c.active.Kind()))
	c.state = NodeStopped
	c.active = nil
}

func (c *NodeLifecycleController) transition(from, to NodeRunState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return errHalted
	}
	c.reconcile()
	if c.state != from {
		return fmt.Errorf("node is %s, expected %s", c.state, from)
	}
	c.state = to
	return nil
}

func (c *NodeLifecycleController) setState(s NodeRunState, active types.NodeRunner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.active = active
}

// selectRunner picks the native runner for persistent projects when one is
// available, the container runner otherwise.
func (c *NodeLifecycleController) selectRunner() types.NodeRunner {
	if c.project.Persistent && c.runners.Native != nil {
		return c.runners.Native
	}
	return c.runners.Container
}

// Start launches the node. With resetState a persistent project's chain data
// is wiped back to genesis first.
func (c *NodeLifecycleController) Start(ctx context.Context, resetState bool) error {
	if err := c.transition(NodeStopped, NodeStarting); err != nil {
		return phaseError(PhaseStart, err)
	}

	if c.project.Persistent && resetState {
		c.log.Info("resetting state to genesis")
		if _, err := c.bin.exec(ctx, false, "unsafe-reset-all"); err != nil {
			c.setState(NodeStopped, nil)
			return phaseError(PhaseReset, err)
		}
	}

	runner := c.selectRunner()
	c.log.Info("starting node", zap.String("runner", runner.Kind()), zap.String("rpc", RPCHost+":"+RPCPort))
	if err := runner.Start(ctx); err != nil {
		c.setState(NodeStopped, nil)
		return phaseError(PhaseStart, err)
	}

	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return c.stopLate(ctx, runner)
	}
	c.state, c.active = NodeRunning, runner
	c.mu.Unlock()

	c.waitReady(ctx)
	return nil
}

// stopLate stops a node whose start completed after Halt.
func (c *NodeLifecycleController) stopLate(ctx context.Context, runner types.NodeRunner) error {
	c.log.Warn("node started after halt, stopping it", zap.String("runner", runner.Kind()))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lateStopTimeout)
	defer cancel()

	err := runner.Stop(ctx)
	c.setState(NodeStopped, nil)
	if err != nil {
		return errors.Join(phaseError(PhaseStart, errHalted), phaseError(PhaseStop, err))
	}
	return phaseError(PhaseStart, errHalted)
}

func (c *NodeLifecycleController) waitReady(ctx context.Context) {
	if c.probe == nil || c.readyTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	if err := c.probe(ctx); err != nil {
		c.log.Warn("node rpc is not answering yet", zap.Error(err))
		return
	}
	c.log.Info("node rpc is ready")
}

// Stop stops the running node. A stopped node is left alone. The state always
// ends up Stopped; the runner's error is returned for the caller to report.
func (c *NodeLifecycleController) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.reconcile()
	if c.state == NodeStopped {
		c.mu.Unlock()
		return nil
	}
	if c.state != NodeRunning {
		state := c.state
		c.mu.Unlock()
		return phaseError(PhaseStop, fmt.Errorf("node is %s", state))
	}
	c.state = NodeStopping
	runner := c.active
	c.mu.Unlock()

	c.log.Info("stopping node", zap.String("runner", runner.Kind()))
	err := runner.Stop(ctx)
	c.setState(NodeStopped, nil)
	if err != nil {
		return phaseError(PhaseStop, err)
	}
	c.log.Info("node stopped")
	return nil
}

// Halt stops the node whatever state it is in and refuses every later Start.
// A start still in flight stops its own node once it completes.
func (c *NodeLifecycleController) Halt(ctx context.Context) error {
	c.mu.Lock()
	c.halted = true
	active := c.active
	c.mu.Unlock()

	var errs []error
	for _, r := range []types.NodeRunner{c.runners.Container, c.runners.Native} {
		if r == nil || (r != active && !r.IsRunning()) {
			continue
		}
		c.log.Info("stopping node", zap.String("runner", r.Kind()))
		if err := r.Stop(ctx); err != nil {
			errs = append(errs, phaseError(PhaseStop, err))
		}
	}
	c.setState(NodeStopped, nil)
	return errors.Join(errs...)
}
