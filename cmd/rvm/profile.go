package main

import (
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/rvm/config"
	log "github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/profile"
	"github.com/colorfulnotion/rvm/rvm/trace"
	"github.com/colorfulnotion/rvm/rvm/tracedb"
	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	var (
		dbPath   string
		htmlPath string
		top      int
		history  bool
	)
	cmd := &cobra.Command{
		Use:   "profile <program> [args...]",
		Short: "Run on the trace engine and report the hottest blocks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readImage(args[0])
			if err != nil {
				return err
			}
			c := cfg
			c.Trace.Engine = config.EngineTrace
			prof := profile.New()
			s, err := newSession(c, image, args, io.Discard, nil, trace.WithBlockObserver(prof))
			if err != nil {
				return err
			}
			code, runErr := s.run(cmd.Context())
			if runErr != nil {
				log.Warn(log.CLIMonitoring, "run stopped early", "err", runErr)
			}

			report := prof
			if dbPath != "" {
				db, err := tracedb.Open(dbPath)
				if err != nil {
					return err
				}
				defer db.Close()
				digest := tracedb.ProgramDigest(image)
				if err := db.SaveProfile(digest, prof); err != nil {
					return err
				}
				if history {
					blocks, err := db.LoadProfile(digest)
					if err != nil {
						return err
					}
					report = profile.New()
					report.Merge(blocks)
				}
			}

			out := cmd.OutOrStdout()
			stats := s.engine.Stats()
			fmt.Fprintf(out, "exit=%d cycles=%d entries=%d hits=%d builds=%d\n", code, s.mach.Cycles(), stats.Entries, stats.Hits, stats.Builds)
			fmt.Fprintf(out, "%-12s %6s %6s %10s %10s %12s\n", "block", "len", "insts", "entries", "builds", "cycles")
			for _, b := range report.Top(top) {
				fmt.Fprintf(out, "0x%-10x %6d %6d %10d %10d %12d\n", b.Address, b.Length, b.Instructions, b.Entries, b.Builds, b.TotalCycles())
			}

			if htmlPath != "" {
				f, err := os.Create(htmlPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := report.Render(f, fmt.Sprintf("%s block cycles", args[0]), top); err != nil {
					return err
				}
				fmt.Fprintf(out, "chart written to %s\n", htmlPath)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Accumulate the profile in this LevelDB directory")
	cmd.Flags().StringVar(&htmlPath, "html", "", "Write a bar chart of the top blocks to this HTML file")
	cmd.Flags().IntVar(&top, "top", 20, "Number of blocks to report (0 for all)")
	cmd.Flags().BoolVar(&history, "history", false, "Report the accumulated profile from --db instead of this run")
	return cmd
}
