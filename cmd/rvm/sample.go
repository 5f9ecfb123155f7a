package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/rvm/rvm/asm"
	"github.com/spf13/cobra"
)

func newSampleCmd() *cobra.Command {
	var (
		output string
		n      int64
	)
	cmd := &cobra.Command{
		Use:       "sample <auipc|loop>",
		Short:     "Write a built-in flat program image",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"auipc", "loop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var image []byte
			var err error
			switch args[0] {
			case "auipc":
				image = asm.AuipcProgram()
			case "loop":
				image, err = asm.LoopProgram(n)
			default:
				return fmt.Errorf("unknown sample %q", args[0])
			}
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(image)
				return err
			}
			return os.WriteFile(output, image, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().Int64Var(&n, "n", 1000, "Iterations for the loop sample")
	return cmd
}
