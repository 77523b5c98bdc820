package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	bogoOps = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "bogo_ops",
		Help:      "Bogo-operations completed per stressor instance.",
	}, []string{"stressor", "instance"})

	workersRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "workers_running",
		Help:      "Worker processes currently in their run phase.",
	}, []string{"stressor"})

	forcedKills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stressng",
		Name:      "forced_kills_total",
		Help:      "Workers that had to be SIGKILLed after ignoring the stop signal.",
	}, []string{"stressor"})

	oomRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stressng",
		Name:      "oom_restarts_total",
		Help:      "Worker bodies restarted after an assumed OOM kill.",
	}, []string{"stressor"})

	runDeadline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "run_deadline_seconds",
		Help:      "Unix time at which the run stops, 0 when unbounded.",
	})

	cpuPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "system_cpu_percent",
		Help:      "System-wide CPU utilisation sampled during the run.",
	})

	memUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "system_mem_used_percent",
		Help:      "System memory utilisation sampled during the run.",
	})

	memAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "system_mem_available_bytes",
		Help:      "System memory available, sampled during the run.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stressng",
		Name:      "build_info",
		Help:      "Build metadata for the running binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(
		bogoOps,
		workersRunning,
		forcedKills,
		oomRestarts,
		runDeadline,
		cpuPercent,
		memUsedPercent,
		memAvailable,
		buildInfo,
	)
}

// Registry returns the Prometheus registry holding all run metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetBogoOps records the current bogo-op count of one instance.
func SetBogoOps(stressor, instance string, ops uint64) {
	if stressor == "" {
		return
	}
	bogoOps.WithLabelValues(stressor, instance).Set(float64(ops))
}

// SetWorkersRunning records how many instances of a stressor are in
// their run phase.
func SetWorkersRunning(stressor string, n int) {
	if stressor == "" {
		return
	}
	workersRunning.WithLabelValues(stressor).Set(float64(n))
}

// IncForcedKill counts a forced SIGKILL escalation.
func IncForcedKill(stressor string) {
	if stressor == "" {
		stressor = "unknown"
	}
	forcedKills.WithLabelValues(stressor).Inc()
}

// IncOOMRestart counts a low-memory respawn.
func IncOOMRestart(stressor string) {
	if stressor == "" {
		stressor = "unknown"
	}
	oomRestarts.WithLabelValues(stressor).Inc()
}

// SetRunDeadline publishes the wall-clock end of the run.
func SetRunDeadline(unixSeconds float64) {
	runDeadline.Set(unixSeconds)
}

// SetSystemSample publishes one system utilisation sample.
func SetSystemSample(cpuPct, memPct float64, memAvailBytes uint64) {
	cpuPercent.Set(cpuPct)
	memUsedPercent.Set(memPct)
	memAvailable.Set(float64(memAvailBytes))
}

// EmitBuildInfo records build metadata gathered from the runtime once.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
