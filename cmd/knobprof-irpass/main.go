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

// Command knobprof-irpass runs the taint-propagation variable-discovery
// pass (internal/irpass) over a Go module ahead of time, writing the
// resulting schema.txt the same way the original LLVM ModulePass wrote its
// own schema.txt at compile time.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stealthrocket/knobprof/internal/irpass"
)

// manifest is the optional irpass.yaml pass-options file: seeds and output
// locations a build can check into source control instead of passing flags.
type manifest struct {
	Seeds        []string `yaml:"seeds"`
	SeedFile     string   `yaml:"seed_file"`
	SchemaPath   string   `yaml:"schema_path"`
	SourceSuffix string   `yaml:"source_suffix"`
}

func main() {
	var (
		dir          string
		seeds        []string
		seedFile     string
		manifestPath string
		schemaPath   string
	)

	root := &cobra.Command{
		Use:   "knobprof-irpass [packages...]",
		Short: "Discover taint-reachable variables ahead of time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"./..."}
			}

			m := manifest{}
			if manifestPath != "" {
				data, err := os.ReadFile(manifestPath)
				if err != nil {
					return fmt.Errorf("read manifest: %w", err)
				}
				if err := yaml.Unmarshal(data, &m); err != nil {
					return fmt.Errorf("parse manifest: %w", err)
				}
			}
			if len(seeds) > 0 {
				m.Seeds = seeds
			}
			if seedFile != "" {
				m.SeedFile = seedFile
			}
			if schemaPath != "" {
				m.SchemaPath = schemaPath
			}

			var seedSet *irpass.SeedSet
			switch {
			case m.SeedFile != "":
				s, err := irpass.LoadSeedFile(m.SeedFile)
				if err != nil {
					return fmt.Errorf("load seed file: %w", err)
				}
				seedSet = s
			case len(m.Seeds) > 0:
				seedSet = irpass.NewSeedSet(m.Seeds...)
			default:
				return fmt.Errorf("no taint seeds given: pass --seed, --seed-file, or a manifest with seeds")
			}

			prog, err := irpass.Load(dir, args...)
			if err != nil {
				return fmt.Errorf("load program: %w", err)
			}

			filter := irpass.LoadEnvSchemaFilter()
			res := irpass.Run(prog, seedSet, filter)

			e := irpass.NewEmitter(prog.Fset)
			if m.SchemaPath != "" {
				e.SchemaPath = m.SchemaPath
			}
			if m.SourceSuffix != "" {
				e.SourceSuffix = m.SourceSuffix
			}
			if err := e.Write(res); err != nil {
				return fmt.Errorf("write schema: %w", err)
			}

			fmt.Fprintf(os.Stderr, "knobprof-irpass: %d seed functions, %d variables, %d globals -> %s\n",
				len(res.SeedFuncs), len(res.Variables), len(res.Globals), e.SchemaPath)
			return nil
		},
	}

	root.Flags().StringVar(&dir, "dir", ".", "directory to load packages from")
	root.Flags().StringSliceVar(&seeds, "seed", nil, "literal name or shell-glob taint seed, repeatable")
	root.Flags().StringVar(&seedFile, "seed-file", "", "path to a newline-delimited seed file")
	root.Flags().StringVar(&manifestPath, "manifest", "", "path to an irpass.yaml pass-options manifest")
	root.Flags().StringVar(&schemaPath, "schema", "", "override the schema.txt output path")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "knobprof-irpass: %v\n", err)
		os.Exit(1)
	}
}

