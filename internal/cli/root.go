// Package cli implements tidectl, an operator CLI that runs the engine
// in-process against the same stores as the service.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/tide-data-service/internal/app"
	"github.com/couchcryptid/tide-data-service/internal/config"
	"github.com/couchcryptid/tide-data-service/internal/observability"
)

// env holds the engine of the running command.
type env struct {
	verbose bool
	engine  *app.Engine
}

// NewRootCmd builds the tidectl command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "tidectl",
		Short:         "tidectl – inspect and repair the tide data caches",
		Long:          `Runs the tide data engine in-process against the configured stores. Configuration comes from the same environment variables as tided.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.open(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return e.close()
		},
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Verbose debug output to stderr")

	root.AddCommand(
		viewCmd(e),
		tidesCmd(e),
		coefficientsCmd(e),
		waterLevelsCmd(e),
		waterTempCmd(e),
		prefetchCmd(e),
		reinitCmd(e),
		harborsCmd(e),
	)
	return root
}

// Execute runs tidectl and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) open(stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := "warn"
	if e.verbose {
		level = "debug"
	}
	logger := observability.NewLoggerTo(stderr, level, "text")

	engine, err := app.Build(cfg, clockwork.NewRealClock(), nil, logger, observability.NewMetricsForTesting())
	if err != nil {
		return err
	}
	e.engine = engine
	return nil
}

func (e *env) close() error {
	if e.engine == nil {
		return nil
	}
	err := e.engine.Close()
	e.engine = nil
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
