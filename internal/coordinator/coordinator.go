// Package coordinator divides the work of one NLP definition across N
// sibling worker processes. Each worker is a fresh invocation of the same
// binary, given its shard index and the total shard count; the workers
// share no memory, only the destination and progress databases, which
// stay safe because the Planner's pk-mod-N partitioning is disjoint.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"cratenlp/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Config describes how to relaunch the current binary as N shard workers.
type Config struct {
	// BinaryPath is the executable to relaunch, typically os.Executable().
	BinaryPath string
	// BaseArgs are the CLI args common to every shard (config path,
	// --nlpdef, --full/--incremental, commit thresholds, ...), excluding
	// --process and --nprocesses, which the Coordinator appends itself.
	BaseArgs []string
	// NProcesses is the total shard count N.
	NProcesses int
}

// WorkerStatus is the observable state of one shard's sibling process.
type WorkerStatus struct {
	ShardIndex int
	State      string // "running", "completed", "failed"
	StartedAt  time.Time
	ExitCode   int
	Stderr     string
	Err        error
}

// Summary is the end-of-run report across all shards.
type Summary struct {
	Workers  []WorkerStatus
	ExitCode int // the worst of the per-shard exit codes
}

// Coordinator launches and tracks the sibling shard processes.
type Coordinator struct {
	cfg    Config
	logger *logrus.Logger

	mutex   sync.RWMutex
	workers map[int]*WorkerStatus
}

// New builds a Coordinator for the given shard count and pass-through args.
func New(cfg Config, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		logger:  logger,
		workers: make(map[int]*WorkerStatus),
	}
}

// Run launches cfg.NProcesses sibling processes, one per shard index, and
// blocks until every one of them exits or ctx is cancelled. Cancelling ctx
// kills every still-running child (exec.CommandContext's default
// cancellation behaviour). The returned Summary.ExitCode is the worst
// observed per-shard exit code: 3 (aborted) beats 2 (records failed) beats
// 1 (configuration error) beats 0 (success), matching the controller's own
// exit-code precedence so a shard's failure is never masked by its
// siblings' success.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	n := c.cfg.NProcesses
	if n < 1 {
		return Summary{}, fmt.Errorf("coordinator: nprocesses must be >= 1, got %d", n)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for shard := 0; shard < n; shard++ {
		c.mutex.Lock()
		c.workers[shard] = &WorkerStatus{ShardIndex: shard, State: "running", StartedAt: time.Now()}
		c.mutex.Unlock()

		go func(shard int) {
			defer wg.Done()
			c.runShard(ctx, shard, n)
		}(shard)
	}
	wg.Wait()

	return c.summarize(), nil
}

func (c *Coordinator) runShard(ctx context.Context, shard, n int) {
	args := append(append([]string{}, c.cfg.BaseArgs...),
		"--process", strconv.Itoa(shard),
		"--nprocesses", strconv.Itoa(n))

	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.WithFields(logrus.Fields{"shard": shard, "nprocesses": n}).Info("launching shard worker")
	metrics.ActiveShardWorkers.Inc()
	defer metrics.ActiveShardWorkers.Dec()

	err := cmd.Run()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	status := c.workers[shard]
	status.Stderr = stderr.String()
	if err != nil {
		status.State = "failed"
		status.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			status.ExitCode = exitErr.ExitCode()
		} else {
			status.ExitCode = 1
		}
		metrics.SetShardExitCode(strconv.Itoa(shard), status.ExitCode)
		c.logger.WithFields(logrus.Fields{"shard": shard, "exit_code": status.ExitCode}).
			WithError(err).Error("shard worker exited with error")
		return
	}
	status.State = "completed"
	status.ExitCode = 0
	metrics.SetShardExitCode(strconv.Itoa(shard), 0)
	c.logger.WithField("shard", shard).Info("shard worker completed")
}

// Status returns a snapshot of every shard's current state, ordered by
// shard index.
func (c *Coordinator) Status() []WorkerStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]WorkerStatus, c.cfg.NProcesses)
	for shard, status := range c.workers {
		out[shard] = *status
	}
	return out
}

func (c *Coordinator) summarize() Summary {
	workers := c.Status()
	summary := Summary{Workers: workers}
	for _, w := range workers {
		if w.ExitCode > summary.ExitCode {
			summary.ExitCode = w.ExitCode
		}
	}
	return summary
}
