package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stealthrocket/knobprof/internal/elfdwarf"
)

// writeInfoTxt resolves each schema entry against binPath's own DWARF debug
// info and writes the resulting variable records in config.go's
// LoadConfig line format: "<from>:<to>:<atom>:<addr>:<size>". Every size it
// writes is non-zero, so it never produces shadow records. A schema
// entry whose function carries no single-atom location in the binary (an
// inlined or optimized-away variable, or a composite location DWARF
// expression) is silently skipped, mirroring LoadConfig's own tolerance of
// missing variables.
//
// This closes the pipeline SPEC_FULL.md §4.H describes: irpass's schema.txt
// names which source variables to watch; this step binds those names to
// the concrete addresses and PC ranges a specific compiled binary gives
// them, the same way the original toolchain's post-compile linking step
// resolved debug symbols into the variable-tracking config file.
func writeInfoTxt(binPath string, entries []schemaEntry, progName, out string) (int, error) {
	idx, err := elfdwarf.Load(binPath)
	if err != nil {
		return 0, fmt.Errorf("resolve: load dwarf: %w", err)
	}

	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return 0, fmt.Errorf("resolve: create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	if progName == "" {
		progName = binPath
	}
	if _, err := fmt.Fprintln(bw, progName); err != nil {
		return 0, err
	}

	written := 0
	for _, e := range entries {
		for _, v := range idx.Lookup(e.Function) {
			if v.Name != e.Name {
				continue
			}
			if _, err := fmt.Fprintf(bw, "%#x:%#x:%d:%d:%d\n",
				v.LowPC, v.HighPC, v.Atom, v.Addr, v.Size); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, bw.Flush()
}

func newResolveCommand() *cobra.Command {
	var out, progName string
	cmd := &cobra.Command{
		Use:   "resolve <schema.txt> <binary>",
		Short: "Resolve an irpass schema.txt against a binary's DWARF info into an info.txt config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readSchema(args[0])
			if err != nil {
				return err
			}
			n, err := writeInfoTxt(args[1], entries, progName, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "knobprofctl: resolved %d/%d schema entries\n", n, len(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (defaults to stdout)")
	cmd.Flags().StringVar(&progName, "progname", "", "program name line to write (defaults to the binary path)")
	return cmd
}
