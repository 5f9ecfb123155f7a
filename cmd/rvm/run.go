package main

import (
	"fmt"
	"os"

	log "github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvm/profile"
	"github.com/colorfulnotion/rvm/rvm/steplog"
	"github.com/colorfulnotion/rvm/rvm/trace"
	"github.com/colorfulnotion/rvm/rvm/tracedb"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		stepLogPath string
		registers   bool
		dbPath      string
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "run <program> [args...]",
		Short: "Run a program and exit with its exit code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readImage(args[0])
			if err != nil {
				return err
			}

			var opts []machine.Option
			var steps *steplog.Writer
			if stepLogPath != "" {
				var slOpts []steplog.Option
				if registers {
					slOpts = append(slOpts, steplog.WithRegisters())
				}
				steps, err = steplog.NewWriterFile(stepLogPath, slOpts...)
				if err != nil {
					return err
				}
				defer steps.Close()
				opts = append(opts, machine.WithObserver(steps))
			}

			prof := profile.New()
			s, err := newSession(cfg, image, args, os.Stdout, opts, trace.WithBlockObserver(prof))
			if err != nil {
				return err
			}
			code, runErr := s.run(cmd.Context())
			if steps != nil {
				if err := steps.Close(); err != nil {
					log.Warn(log.CLIMonitoring, "steplog", "err", err)
				}
			}

			if dbPath != "" {
				if err := recordRun(dbPath, s, prof, code, runErr); err != nil {
					return err
				}
			}
			if !quiet {
				fmt.Fprintf(os.Stderr, "exit=%d cycles=%d engine=%s fusion=%v\n", code, s.mach.Cycles(), cfg.Trace.Engine, cfg.Trace.Fusion)
			}
			if runErr != nil {
				return runErr
			}
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stepLogPath, "steplog", "", "Write a JSON Lines step log to this file")
	cmd.Flags().BoolVar(&registers, "steplog-registers", false, "Include the register file in every step")
	cmd.Flags().StringVar(&dbPath, "db", "", "Record the run (and the trace profile) in this LevelDB directory")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the run summary")
	return cmd
}

func recordRun(dbPath string, s *session, prof *profile.Profile, code int8, runErr error) error {
	db, err := tracedb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	digest := tracedb.ProgramDigest(s.image)
	run := tracedb.Run{
		Engine:   cfg.Trace.Engine,
		Fused:    cfg.Trace.Fusion,
		ExitCode: code,
		Cycles:   s.mach.Cycles(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if s.engine != nil {
		stats := s.engine.Stats()
		run.Entries, run.Hits, run.Builds = stats.Entries, stats.Hits, stats.Builds
		if err := db.SaveProfile(digest, prof); err != nil {
			return err
		}
	}
	seq, err := db.AppendRun(digest, run)
	if err != nil {
		return err
	}
	log.Info(log.CLIMonitoring, "run recorded", "program", digest.String()[:16], "seq", seq)
	return nil
}
