// Package cli wires the stress-ng command tree: the public run and
// list commands, and the hidden worker command the spawner re-executes
// for every stressor instance.
package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nxfs/stress-ng/internal/logging"

	// Stressor bodies register themselves at init time.
	_ "github.com/nxfs/stress-ng/internal/stressor/flock"
	_ "github.com/nxfs/stress-ng/internal/stressor/mlock"
	_ "github.com/nxfs/stress-ng/internal/stressor/pipe"
	_ "github.com/nxfs/stress-ng/internal/stressor/signest"
	_ "github.com/nxfs/stress-ng/internal/stressor/udp"
	_ "github.com/nxfs/stress-ng/internal/stressor/vecshuf"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{logLevel: logLevelFromEnv()}

	root := &cobra.Command{
		Use:   "stress-ng",
		Short: "Stress a system with dispatchable worker processes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.setupLogging()
		},
	}

	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", ctx.logLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&ctx.logJSON, "log-json", false, "Emit logs as JSON records")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newListCmd(ctx))
	root.AddCommand(newWorkerCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, state := newRootCommand()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if state.exitCode != 0 {
		os.Exit(state.exitCode)
	}
}

// context carries the state shared across subcommands.
type context struct {
	logLevel string
	logJSON  bool

	log *logging.Logger

	// exitCode is the process exit the run command decided on. Cobra
	// only distinguishes success from error, so the code travels out
	// of RunE by the side door.
	exitCode int
}

func (c *context) setupLogging() error {
	level := logging.LevelInfo
	if c.logLevel != "" {
		parsed, err := logging.ParseLevel(c.logLevel)
		if err != nil {
			return err
		}
		level = parsed
	}
	c.log = logging.New(os.Stderr, logging.Options{Level: level, JSON: c.logJSON})
	return nil
}

func (c *context) logger() *logging.Logger {
	if c.log == nil {
		c.log = logging.New(os.Stderr, logging.Options{Level: logging.LevelInfo})
	}
	return c.log
}

func logLevelFromEnv() string {
	return os.Getenv("STRESS_NG_LOG_LEVEL")
}
