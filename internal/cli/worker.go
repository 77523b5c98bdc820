package cli

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/oomable"
	"github.com/nxfs/stress-ng/internal/reap"
	"github.com/nxfs/stress-ng/internal/shm"
	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/stressor"
)

// deadlineGrace is how long past the published run deadline a worker
// may linger before it exits hard. Bodies stuck in unkillable work
// would otherwise outlive the reaper's patience.
const deadlineGrace = 5 * time.Second

const parentCheckInterval = time.Second

// osExit is swapped out by tests.
var osExit = os.Exit

func newWorkerCmd(ctx *context) *cobra.Command {
	var p workerParams

	cmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		Short:  "Run one stressor body (spawned internally)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runWorker(cmd, p)
		},
	}
	cmd.Flags().StringVar(&p.entry, "entry", "", "Registered stressor body to run")
	cmd.Flags().IntVar(&p.instance, "instance", 0, "Per-stressor instance index")
	cmd.Flags().IntVar(&p.global, "global", 0, "Record slot in the shared region")
	cmd.Flags().Uint64Var(&p.maxOps, "max-ops", 0, "Bogo-op budget, zero for unbounded")
	cmd.Flags().IntVar(&p.files, "files", 0, "Count of extra inherited descriptors")
	cmd.Flags().StringArrayVar(&p.optPairs, "opt", nil, "Stressor option as key=value")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}

type workerParams struct {
	entry    string
	instance int
	global   int
	maxOps   uint64
	files    int
	optPairs []string
}

// runWorker is the bootstrap every spawned process runs: attach the
// shared region inherited on fd 3, arm the stop plumbing, hand control
// to the stressor body, and exit with the body's status.
func (c *context) runWorker(cmd *cobra.Command, p workerParams) error {
	info, ok := stressor.Lookup(p.entry)
	if !ok {
		return fmt.Errorf("unknown stressor body %q", p.entry)
	}
	options, err := parseOptPairs(p.optPairs)
	if err != nil {
		return err
	}

	store, err := counters.Attach(os.NewFile(uintptr(spawn.FirstInheritedFd), "shared-counters"))
	if err != nil {
		return fmt.Errorf("attach shared region: %w", err)
	}
	extra := make([]*os.File, 0, p.files)
	for i := 0; i < p.files; i++ {
		fd := spawn.FirstInheritedFd + 1 + i
		extra = append(extra, os.NewFile(uintptr(fd), fmt.Sprintf("inherited-%d", i)))
	}

	log := c.logger().Named(fmt.Sprintf("%s-%d", p.entry, p.instance))

	if info.Oomable {
		// Oomable bodies volunteer, so the kernel culls them before
		// anything else on the host.
		if err := oomable.AdjustSelf(oomable.ScorePrefer); err != nil {
			log.Debugf("oom score adjust: %v", err)
		}
	}

	ctrl := control.NewWorker(store, p.global, p.maxOps)
	release := ctrl.HandleSignals(syscall.SIGALRM, syscall.SIGINT, syscall.SIGTERM)
	cancelDeadline := ctrl.ArmDeadline(deadlineGrace, func() {
		log.Errorf("still running %v past the deadline, exiting hard", deadlineGrace)
		osExit(int(stressor.ExitFailure))
	})
	stopWatch := spawn.WatchParent(parentCheckInterval, func() {
		log.Warnf("supervisor is gone, stopping")
		ctrl.Stop()
	})

	var hist *hdrhistogram.Histogram
	if p.instance == 0 {
		hist = hdrhistogram.New(1, time.Minute.Nanoseconds(), 3)
	}

	spawner, err := spawn.New(store, ctrl.Continue, log, spawn.Options{
		LogLevel: c.logLevel,
		LogJSON:  c.logJSON,
	})
	if err != nil {
		return err
	}
	reaper := reap.New(ctrl.Continue, log)
	// Helpers share this instance's record, so their forced kills
	// count against it.
	reaper.OnForcedKill(func(int) { store.Record(p.global).IncForced() })

	args := &stressor.Args{
		Name:     info.Name,
		Instance: p.instance,
		Global:   p.global,
		MaxOps:   p.maxOps,
		Ctx:      cmd.Context(),
		Store:    store,
		Ctrl:     ctrl,
		Log:      log,
		Spawner:  spawner,
		Reaper:   reaper,
		Options:  options,
		Hist:     hist,
		Files:    extra,
	}

	rec := store.Record(p.global)
	rec.SetState(shm.StateInit)
	rec.MarkStarted(time.Now())
	log.Debugf("started %s instance %d (pid %d)", info.Name, p.instance, os.Getpid())

	rec.SetState(shm.StateRun)
	status := info.Run(args)
	rec.SetState(shm.StateDeinit)

	if hist != nil && hist.TotalCount() > 0 {
		rec.SetMetric(stressor.SlotLatencyP50, "p50 op latency nanosecs", float64(hist.ValueAtQuantile(50)))
		rec.SetMetric(stressor.SlotLatencyP99, "p99 op latency nanosecs", float64(hist.ValueAtQuantile(99)))
	}

	stopWatch()
	cancelDeadline()
	release()
	rec.SetState(shm.StateExit)
	log.Debugf("exiting with status %d (%s)", int(status), status)
	osExit(int(status))
	return nil
}

func parseOptPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed option %q (want key=value)", pair)
		}
		out[k] = v
	}
	return out, nil
}
