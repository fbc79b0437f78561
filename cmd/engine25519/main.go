// Package main provides the CLI entry point for engine25519, the microcoded
// Curve25519 field arithmetic engine.
//
// Usage:
//
//	engine25519 run ladder.asm --reg r0=0x09    # Assemble and run
//	engine25519 run add.asm --operands in.csv   # Run once per table row
//	engine25519 compile ladder.asm              # Assemble to an image (.ucode)
//	engine25519 exec ladder.ucode               # Run an image
//	engine25519 disasm ladder.ucode             # Disassemble an image
//	engine25519 vectors suite.vec               # Run a test-vector file
//	engine25519 lint ladder.asm                 # Static checks
//	engine25519 repl                            # Interactive console
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akhildatla/engine25519/internal/config"
	"github.com/akhildatla/engine25519/internal/logging"
	"github.com/akhildatla/engine25519/pkg/metrics"
	"github.com/akhildatla/engine25519/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// On failure Cobra prints the error, so we only need to exit with a
	// non-0 status.
	if newRootCmd().Execute() != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand, built before each runs.
type app struct {
	configPath string
	logLevel   string

	conf      *config.TopLevel
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	stopServe context.CancelFunc
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "engine25519",
		Short:         "Microcoded Curve25519 field arithmetic engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(
		runCmd(a),
		compileCmd(a),
		execCmd(a),
		disasmCmd(a),
		vectorsCmd(a),
		lintCmd(a),
		replCmd(a),
		versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	conf, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		conf.Log.Level = a.logLevel
	}
	a.conf = conf

	logger, err := logging.NewWithWriter(conf.Log.Level, conf.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger

	a.registry = prometheus.NewRegistry()
	a.collector, err = metrics.NewCollector(a.registry)
	if err != nil {
		return err
	}

	if conf.Metrics.Listen != "" {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopServe = cancel
		go func() {
			if err := metrics.Serve(ctx, conf.Metrics.Listen, a.registry, a.logger); err != nil {
				a.logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}
	return nil
}

func (a *app) teardown() {
	if a.stopServe != nil {
		a.stopServe()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// engineOptions configures a VM from the loaded configuration.
func (a *app) engineOptions() []vm.Option {
	return []vm.Option{
		vm.WithLogger(a.logger),
		vm.WithResetCycles(a.conf.Engine.ResetCycles),
		vm.WithBypass(a.conf.Engine.Bypass),
		vm.WithMicrocodeDepth(a.conf.Engine.MicrocodeDepth),
		vm.WithMaxCycles(a.conf.Engine.MaxCycles),
		vm.WithObserver(a.collector),
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "engine25519 version %s\n", version)
	if commit != "none" {
		fmt.Fprintf(out, "  commit: %s\n", commit)
	}
	if date != "unknown" {
		fmt.Fprintf(out, "  built:  %s\n", date)
	}
}
