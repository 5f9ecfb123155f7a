package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/rvm/trace"
	"github.com/spf13/cobra"
)

func newTraceCmd() *cobra.Command {
	var (
		pcFlag string
		follow int
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "trace <program>",
		Short: "Build traces and print them as trees",
		Long: `Build the trace at --pc (default: the entry point) and follow it through
--follow fall-through successors, or with --all run the program on the trace
engine and print every trace left in the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readImage(args[0])
			if err != nil {
				return err
			}
			c := cfg
			c.Trace.Engine = config.EngineTrace
			s, err := newSession(c, image, args, io.Discard, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if all {
				code, runErr := s.run(cmd.Context())
				printCache(out, s.engine.Cache())
				stats := s.engine.Stats()
				fmt.Fprintf(out, "exit=%d cycles=%d entries=%d hits=%d builds=%d\n", code, s.mach.Cycles(), stats.Entries, stats.Hits, stats.Builds)
				return runErr
			}

			pc := s.entry
			if pcFlag != "" {
				if pc, err = parseAddr(pcFlag); err != nil {
					return err
				}
			}
			for i := 0; i <= follow; i++ {
				res, err := s.engine.Build(pc)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "slot=%d state=%s\n%s\n", res.Slot, res.State, res.Trace.ToTree().String())
				pc = res.Trace.End()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pcFlag, "pc", "", "Start address in hex")
	cmd.Flags().IntVar(&follow, "follow", 0, "Also build this many traces at the following addresses")
	cmd.Flags().BoolVar(&all, "all", false, "Run the program and dump the whole cache")
	return cmd
}

func printCache(w io.Writer, c *trace.Cache) {
	var traces []*trace.Trace
	for i := 0; i < c.Len(); i++ {
		if t := c.At(i); t != nil {
			traces = append(traces, t)
		}
	}
	sort.Slice(traces, func(i, j int) bool { return traces[i].Address < traces[j].Address })
	for _, t := range traces {
		fmt.Fprintf(w, "slot=%d\n%s\n", c.Slot(t.Address), t.ToTree().String())
	}
	fmt.Fprintf(w, "%d of %d slots occupied\n", c.Occupied(), c.Len())
}

