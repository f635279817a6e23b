//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command knobprofctl inspects and converts the artifacts a running
// knobprof-instrumented process leaves on disk: gmon.out/gmon_var.out pairs,
// and the schema.txt an irpass run produced.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stealthrocket/knobprof/internal/gmonfmt"
)

func main() {
	root := &cobra.Command{
		Use:   "knobprofctl",
		Short: "Inspect and convert knobprof profiling artifacts",
	}

	root.AddCommand(newConvertCommand())
	root.AddCommand(newHeadersCommand())
	root.AddCommand(newSchemaCommand())
	root.AddCommand(newResolveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "knobprofctl: %v\n", err)
		os.Exit(1)
	}
}

func newHeadersCommand() *cobra.Command {
	var varPath string
	cmd := &cobra.Command{
		Use:   "headers <gmon.out>",
		Short: "Print the histogram and arc-section headers of a gmon.out file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			hist, _, arcs, err := gmonfmt.ReadGmon(f)
			if err != nil {
				return err
			}
			fmt.Printf("lowpc=%#x highpc=%#x histsize=%d profrate=%d\n",
				hist.LowPC, hist.HighPC, hist.HistSize, hist.ProfRate)
			fmt.Printf("arcs: %d\n", len(arcs))
			for _, a := range arcs {
				fmt.Printf("  from=%#x self=%#x count=%d\n", a.FromPC, a.SelfPC, a.Count)
			}

			if varPath != "" {
				vf, err := os.Open(varPath)
				if err != nil {
					return err
				}
				defer vf.Close()
				vh, vars, samples, err := gmonfmt.ReadGmonVar(vf)
				if err != nil {
					return err
				}
				fmt.Printf("variables: %d samples: %d (scale=%d hashfraction=%d)\n",
					len(vars), len(samples), vh.Scale, vh.LogHashfraction)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&varPath, "var", "", "also print the matching gmon_var.out file")
	return cmd
}

func newConvertCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "convert <gmon.out>",
		Short: "Convert a gmon.out histogram+arc file to a pprof profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			hist, counts, arcs, err := gmonfmt.ReadGmon(f)
			if err != nil {
				return err
			}

			prof := buildPprofFromGmon(hist, counts, arcs)

			w := os.Stdout
			if out != "" {
				wf, err := os.Create(out)
				if err != nil {
					return err
				}
				defer wf.Close()
				w = wf
			}
			return prof.Write(w)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (defaults to stdout)")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <schema.txt>",
		Short: "Pretty-print an irpass schema.txt file as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readSchema(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}
