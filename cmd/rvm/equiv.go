package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvm/steplog"
	"github.com/nsf/jsondiff"
	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

type equivResult struct {
	state state
	steps []steplog.Step
}

func runForEquiv(cmd *cobra.Command, c config.Config, image []byte, args []string, withSteps bool) (equivResult, error) {
	var out, stepBuf bytes.Buffer
	var opts []machine.Option
	var w *steplog.Writer
	if withSteps {
		w = steplog.NewWriter(&stepBuf)
		opts = append(opts, machine.WithObserver(w))
	}
	s, err := newSession(c, image, args, &out, opts)
	if err != nil {
		return equivResult{}, err
	}
	code, runErr := s.run(cmd.Context())
	res := equivResult{state: s.snapshot(code, runErr, out.String())}
	if w != nil {
		if err := w.Close(); err != nil {
			return res, err
		}
		if res.steps, err = steplog.ReadSteps(&stepBuf); err != nil {
			return res, err
		}
	}
	return res, nil
}

func newEquivCmd() *cobra.Command {
	var withSteps bool
	cmd := &cobra.Command{
		Use:   "equiv <program> [args...]",
		Short: "Check that the configured engine matches the unfused interpreter",
		Long: `Run the program twice, once on the interpreter without fusion and once
with the configured engine and fusion setting, then diff the final states.
Cycle counts are compared too, so a cost model that prices fused and unfused
forms differently shows up here.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readImage(args[0])
			if err != nil {
				return err
			}
			ref := cfg
			ref.Trace.Engine = config.EngineInterpreter
			ref.Trace.Fusion = false

			left, err := runForEquiv(cmd, ref, image, args, withSteps)
			if err != nil {
				return err
			}
			right, err := runForEquiv(cmd, cfg, image, args, withSteps)
			if err != nil {
				return err
			}
			// Engine and fusion are expected to differ.
			right.state.Engine, right.state.Fused = left.state.Engine, left.state.Fused

			out := cmd.OutOrStdout()
			if withSteps {
				if i := steplog.FirstDivergence(left.steps, right.steps); i >= 0 {
					fmt.Fprintf(out, "step paths diverge at step %d\n", i)
				} else {
					fmt.Fprintf(out, "step paths match (%d steps)\n", len(left.steps))
				}
			}
			same, err := diffStates(out, left.state, right.state)
			if err != nil {
				return err
			}
			if !same {
				return fmt.Errorf("final states differ")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSteps, "steps", false, "Also compare the executed pc sequences")
	return cmd
}

// diffStates prints a verdict and, on mismatch, an annotated diff.
func diffStates(w io.Writer, left, right state) (bool, error) {
	l, err := json.Marshal(left)
	if err != nil {
		return false, err
	}
	r, err := json.Marshal(right)
	if err != nil {
		return false, err
	}
	opts := jsondiff.DefaultConsoleOptions()
	verdict, _ := jsondiff.Compare(l, r, &opts)
	fmt.Fprintf(w, "final state: %s\n", verdict)
	if verdict == jsondiff.FullMatch {
		return true, nil
	}

	delta, err := gojsondiff.New().Compare(l, r)
	if err != nil {
		return false, err
	}
	var leftObj interface{}
	if err := json.Unmarshal(l, &leftObj); err != nil {
		return false, err
	}
	asciiFmt := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	text, err := asciiFmt.Format(delta)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(w, text)
	return false, nil
}
