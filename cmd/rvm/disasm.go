package main

import (
	"fmt"
	"io"

	"github.com/colorfulnotion/rvm/rvm/disasm"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	var (
		fromFlag string
		length   uint64
	)
	cmd := &cobra.Command{
		Use:   "disasm <program>",
		Short: "Disassemble with x/arch and the machine decoder side by side",
		Long: `Print each instruction's GNU syntax next to what the machine decoder
produces. Instructions rewritten by fusion are marked with '*'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readImage(args[0])
			if err != nil {
				return err
			}
			s, err := newSession(cfg, image, nil, io.Discard, nil)
			if err != nil {
				return err
			}
			start := s.entry
			if fromFlag != "" {
				if start, err = parseAddr(fromFlag); err != nil {
					return err
				}
			}
			if length == 0 {
				length = uint64(len(image))
			}
			lines, err := disasm.Range(s.mach.Memory(), start, start+length, s.decoder)
			out := cmd.OutOrStdout()
			fmt.Fprint(out, disasm.Format(lines))
			return err
		},
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "Start address in hex (default: entry point)")
	cmd.Flags().Uint64Var(&length, "len", 0, "Bytes to disassemble (default: image size)")
	return cmd
}
