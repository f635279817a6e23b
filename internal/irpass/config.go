// Package irpass re-hosts the original LLVM ModulePass's taint-propagation
// and structure analysis over Go SSA. Grounded on
// original_source/knob_profiler/var_discover/knob_deps_pass.cc/.h and
// util.h; see SPEC_FULL.md §4.G/§4.H for the redesign rationale.
package irpass

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// SeedSet is the taint-seed configuration: a set of literal names plus a
// set of shell-glob patterns compiled to regexps, mirroring
// knob_deps_pass.cc's parseConfigFile (literal lines vs glob lines).
type SeedSet struct {
	literals map[string]bool
	globs    []*regexp.Regexp
}

// LoadSeedFile reads a taint-seed config: one name or shell glob per line,
// blank lines and '#'-comments ignored. A line containing any of `*?[`
// is treated as a glob; everything else is a literal name.
func LoadSeedFile(path string) (*SeedSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := &SeedSet{literals: map[string]bool{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.Add(line)
	}
	return s, scanner.Err()
}

// NewSeedSet builds a SeedSet directly from a list of names/globs, for
// callers that hardcode a seed list instead of reading one from a file
// (mirroring knob_deps_pass.cc's constructor fallback to literal conf1/conf2
// sets when no config file is supplied).
func NewSeedSet(seeds ...string) *SeedSet {
	s := &SeedSet{literals: map[string]bool{}}
	for _, seed := range seeds {
		s.Add(seed)
	}
	return s
}

// Add registers one literal name or shell-glob pattern.
func (s *SeedSet) Add(pattern string) {
	if strings.ContainsAny(pattern, "*?[") {
		if re, err := shellGlobToRegexp(pattern); err == nil {
			s.globs = append(s.globs, re)
		}
		return
	}
	s.literals[pattern] = true
}

// Match reports whether name matches any literal or glob seed, mirroring
// knob_deps_pass.cc's taint_match (set membership, else regex_search
// against every seed regex).
func (s *SeedSet) Match(name string) bool {
	if s.literals[name] {
		return true
	}
	for _, re := range s.globs {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// shellGlobToRegexp converts a shell glob (`*` any run, `?` any char) to an
// anchored regexp, the Go equivalent of util.h's shell2CppRegex.
func shellGlobToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// EnvSchemaFilter parses the EnvSchema environment variable, a
// '|'-separated list of file-name substrings used to restrict analysis to
// modules whose path contains one of them (knob_deps_pass.cc's getEnv +
// str_split). An empty/unset EnvSchema matches everything.
type EnvSchemaFilter struct {
	substrings []string
}

// LoadEnvSchemaFilter reads EnvSchema from the environment.
func LoadEnvSchemaFilter() EnvSchemaFilter {
	v := os.Getenv("EnvSchema")
	if v == "" {
		return EnvSchemaFilter{}
	}
	return EnvSchemaFilter{substrings: strings.Split(v, "|")}
}

// Match reports whether path should be analyzed.
func (f EnvSchemaFilter) Match(path string) bool {
	if len(f.substrings) == 0 {
		return true
	}
	for _, s := range f.substrings {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}
