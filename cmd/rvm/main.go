// rvm runs RV64IMC programs on the interpreter or the trace engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/colorfulnotion/rvm/config"
	log "github.com/colorfulnotion/rvm/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type rootFlags struct {
	configPath   string
	logLevel     string
	debug        string
	engine       string
	fusion       bool
	maxCycles    uint64
	otlpEndpoint string
	otlpInsecure bool
}

var (
	flags    rootFlags
	cfg      config.Config
	shutdown func(context.Context) error
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rvm",
		Short:         "RISC-V VM with AUIPC fusion and a trace engine",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdown != nil {
				return shutdown(cmd.Context())
			}
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&flags.debug, "debug", "", "Comma separated log modules to enable, e.g. rvm_trace,rvm_decoder")
	pf.StringVar(&flags.engine, "engine", "", "Execution engine: interpreter or trace")
	pf.BoolVar(&flags.fusion, "fusion", true, "Fuse guarded AUIPC into CUSTOM_LOAD_UIMM")
	pf.Uint64Var(&flags.maxCycles, "max-cycles", 0, "Cycle limit (0 keeps the configured value)")
	pf.StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "Export run spans to this OTLP/HTTP endpoint (host:port)")
	pf.BoolVar(&flags.otlpInsecure, "otlp-insecure", false, "Use plain HTTP for the OTLP exporter")

	rootCmd.AddCommand(
		newRunCmd(),
		newTraceCmd(),
		newEquivCmd(),
		newProfileCmd(),
		newDebugCmd(),
		newDisasmCmd(),
		newSampleCmd(),
	)
	return rootCmd
}

// setup loads the config, applies flag overrides and starts logging and
// telemetry.
func setup(cmd *cobra.Command) error {
	var err error
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.debug != "" {
		cfg.Log.Modules = flags.debug
	}
	if flags.engine != "" {
		cfg.Trace.Engine = flags.engine
	}
	if cmd.Flags().Changed("fusion") || flags.configPath == "" {
		cfg.Trace.Fusion = flags.fusion
	}
	if flags.maxCycles != 0 {
		cfg.Machine.MaxCycles = flags.maxCycles
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.InitLogger(cfg.Log.Level)
	if cfg.Log.Modules != "" {
		log.EnableModules(cfg.Log.Modules)
	}

	if flags.otlpEndpoint != "" {
		shutdown, err = setupTracing(cmd.Context(), flags.otlpEndpoint, flags.otlpInsecure)
		if err != nil {
			return err
		}
		log.Info(log.CLIMonitoring, "exporting spans", "endpoint", flags.otlpEndpoint)
	}
	return nil
}

// exitError carries a guest exit code out of a command.
type exitError struct {
	code int8
}

func (e exitError) Error() string { return fmt.Sprintf("program exited with %d", e.code) }

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	if ee, ok := err.(exitError); ok {
		os.Exit(int(uint8(ee.code)))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
