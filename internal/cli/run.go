package cli

import (
	stdcontext "context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nxfs/stress-ng/internal/config"
	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/engine"
	"github.com/nxfs/stress-ng/internal/metrics"
	"github.com/nxfs/stress-ng/internal/oomable"
	"github.com/nxfs/stress-ng/internal/reap"
	"github.com/nxfs/stress-ng/internal/report"
	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/tui"
)

const samplerInterval = time.Second

func newRunCmd(ctx *context) *cobra.Command {
	var (
		timeout     time.Duration
		ops         uint64
		jobFile     string
		verify      bool
		withMetrics bool
		metricsAddr string
		withTUI     bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "run [stressor[=workers] ...]",
		Short: "Dispatch stressor workers and report bogo-op totals",
		Long: `Run dispatches the named stressors, each as one or more worker
processes, keeps them inside the run's time and bogo-op budgets, and
prints per-stressor totals when every worker has been reaped.

A worker count of 0 means one worker per CPU. Runs may also be
described by a job manifest; see --job.`,
		Example: `  stress-ng run flock=2 pipe --timeout 60s
  stress-ng run mlock=0 --ops 100000
  stress-ng run --job job.yaml --tui`,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := buildPlan(args, jobFile, cmd.Flags(), timeout, ops, verify)
			if err != nil {
				return err
			}
			return ctx.runPlan(cmd, plan, runOptions{
				withMetrics: withMetrics,
				metricsAddr: metricsAddr,
				withTUI:     withTUI,
				showMetrics: showMetrics,
			})
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Stop every stressor after this duration")
	cmd.Flags().Uint64Var(&ops, "ops", 0, "Stop each worker after this many bogo operations")
	cmd.Flags().StringVarP(&jobFile, "job", "j", "", "Read the run from a job manifest")
	cmd.Flags().BoolVar(&verify, "verify", false, "Verify data where stressors support it")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "Serve Prometheus metrics while the run is live")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "Listen address for --metrics")
	cmd.Flags().BoolVar(&withTUI, "tui", false, "Show a live worker dashboard during the run")
	cmd.Flags().BoolVar(&showMetrics, "metrics-brief", false, "Include per-stressor teardown metrics in the report")

	return cmd
}

type runOptions struct {
	withMetrics bool
	metricsAddr string
	withTUI     bool
	showMetrics bool
}

func (c *context) runPlan(cmd *cobra.Command, plan engine.Plan, opts runOptions) error {
	log := c.logger()

	// Keep the supervisor itself out of the OOM killer's reach; the
	// memory pressure belongs to the workers.
	if err := oomable.AdjustSelf(oomable.ScoreAvoid); err != nil {
		log.Debugf("oom score adjust: %v", err)
	}

	store, err := counters.NewStore(plan.Instances())
	if err != nil {
		return err
	}
	defer store.Close()

	ctrl := control.NewSupervisor(store)
	spawner, err := spawn.New(store, ctrl.Continue, log, spawn.Options{
		LogLevel: c.logLevel,
		LogJSON:  c.logJSON,
	})
	if err != nil {
		return err
	}
	reaper := reap.New(ctrl.Continue, log)
	oom := oomable.New(spawner, reaper, ctrl.Continue, log)

	runCtx, cancel := stdcontext.WithCancel(cmd.Context())
	defer cancel()

	if opts.withMetrics {
		go func() {
			if err := metrics.Serve(runCtx, opts.metricsAddr, log); err != nil {
				log.Warnf("metrics server: %v", err)
			}
		}()
		go metrics.RunSampler(runCtx, store, samplerInterval)
	}

	var events chan engine.Event
	var uiDone chan error
	if opts.withTUI {
		events = make(chan engine.Event, 64)
		uiDone = make(chan error, 1)
		go func() {
			uiDone <- tui.Run(runCtx, store, events, cancel)
		}()
	}

	eng := engine.New(engine.Config{
		Store:   store,
		Ctrl:    ctrl,
		Spawner: spawner,
		Reaper:  reaper,
		Oom:     oom,
		Log:     log,
		Events:  events,
	})

	summary, err := eng.Run(runCtx, plan)
	if uiDone != nil {
		if uerr := <-uiDone; uerr != nil {
			log.Warnf("dashboard: %v", uerr)
		}
	}
	if err != nil {
		return err
	}

	report.Render(cmd.OutOrStdout(), summary, report.Options{Metrics: opts.showMetrics})
	c.exitCode = summary.ExitCode()
	return nil
}

// buildPlan resolves the run request from positional stressor args or
// a job manifest, with explicit flags overriding manifest settings.
func buildPlan(args []string, jobFile string, flags *pflag.FlagSet, timeout time.Duration, ops uint64, verify bool) (engine.Plan, error) {
	var plan engine.Plan

	if jobFile != "" {
		if len(args) > 0 {
			return plan, fmt.Errorf("positional stressors cannot be combined with --job")
		}
		job, err := config.Load(jobFile)
		if err != nil {
			return plan, err
		}
		plan = planFromJob(job)
		if flags.Changed("timeout") {
			plan.Timeout = timeout
		}
		if flags.Changed("ops") {
			for i := range plan.Stressors {
				plan.Stressors[i].MaxOps = ops
			}
		}
		verify = verify || job.Run.Verify
	} else {
		specs, err := parseStressorArgs(args)
		if err != nil {
			return plan, err
		}
		plan = engine.Plan{Stressors: specs, Timeout: timeout}
		if ops > 0 {
			for i := range plan.Stressors {
				plan.Stressors[i].MaxOps = ops
			}
		}
	}

	if verify {
		for i := range plan.Stressors {
			if plan.Stressors[i].Options == nil {
				plan.Stressors[i].Options = make(map[string]string)
			}
			if _, ok := plan.Stressors[i].Options["verify"]; !ok {
				plan.Stressors[i].Options["verify"] = "true"
			}
		}
	}
	return plan, nil
}

// parseStressorArgs turns "flock=2 pipe" into stressor plans. A count
// of zero expands to one worker per CPU.
func parseStressorArgs(args []string) ([]engine.StressorPlan, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("nothing to run: name stressors as arguments or use --job")
	}
	specs := make([]engine.StressorPlan, 0, len(args))
	for _, arg := range args {
		name, workers := arg, 1
		if i := strings.IndexByte(arg, '='); i >= 0 {
			n, err := strconv.Atoi(arg[i+1:])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid worker count in %q", arg)
			}
			name, workers = arg[:i], n
		}
		if workers == 0 {
			workers = runtime.NumCPU()
		}
		specs = append(specs, engine.StressorPlan{Name: name, Workers: workers})
	}
	return specs, nil
}

func planFromJob(job *config.Job) engine.Plan {
	plan := engine.Plan{Timeout: job.Run.Timeout.Duration}
	for _, s := range job.Stressors {
		sp := engine.StressorPlan{Name: s.Name, Workers: *s.Workers, MaxOps: s.Ops}
		if len(s.Options) > 0 {
			sp.Options = make(map[string]string, len(s.Options))
			for k, v := range s.Options {
				sp.Options[k] = v
			}
		}
		plan.Stressors = append(plan.Stressors, sp)
	}
	return plan
}
