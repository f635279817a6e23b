package knobprof

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
)

// DefaultMetaPath is the location of the variable-tracking config file,
// matching gmon.c's FILE_META.
const DefaultMetaPath = "/tmp/vprof/info.txt"

// Config is the parsed contents of the meta-file: the program name it was
// generated for, plus every variable/shadow/reset record to load into a
// VariableTable/ShadowTable (Component B), in file order. LoadConfig never
// mutates global state itself; the caller (lifecycle.go's MonStartup)
// applies it by replaying Records in order.
type Config struct {
	ProgramName string
	Records     []configRecord
}

// configRecord is one line of the config file after classification: either
// a variable record, a shadow record, or a coalescing-reset marker (a '#'
// comment line). Exactly one of Variable/Shadow is non-nil for a
// non-reset record.
type configRecord struct {
	Reset    bool
	Variable *variableRecord
	Shadow   *shadowRecord
}

type variableRecord struct {
	From, To uint64
	Atom     dwarfexpr.Atom
	Addr     int64
	Size     int8
}

type shadowRecord struct {
	At   uint64
	Atom dwarfexpr.Atom
	Addr int64
}

// Variables returns every variable record in file order.
func (c *Config) Variables() []variableRecord {
	var out []variableRecord
	for _, r := range c.Records {
		if r.Variable != nil {
			out = append(out, *r.Variable)
		}
	}
	return out
}

// Shadows returns every shadow record in file order.
func (c *Config) Shadows() []shadowRecord {
	var out []shadowRecord
	for _, r := range c.Records {
		if r.Shadow != nil {
			out = append(out, *r.Shadow)
		}
	}
	return out
}

// LoadConfig opens path (DefaultMetaPath when empty) and parses it per
// spec.md §4.C. If the file's program-name line does not match progname,
// LoadConfig returns a Config with no records and matched=false: this is a
// soft disable (histogram/arc profiling still runs) rather than an error,
// mirroring init_monitoring_vars's early return when __progname mismatches.
func LoadConfig(path, progname string) (cfg *Config, matched bool, err error) {
	if path == "" {
		path = DefaultMetaPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("knobprof: open config %s: %w", path, err)
	}
	defer f.Close()

	cfg = &Config{}
	scanner := bufio.NewScanner(f)

	if !scanner.Scan() {
		return cfg, false, nil
	}
	cfg.ProgramName = strings.TrimSpace(scanner.Text())
	if progname != "" && cfg.ProgramName != progname {
		return cfg, false, nil
	}

	if err := parseVariableLines(scanner, cfg); err != nil {
		return cfg, true, err
	}
	return cfg, true, nil
}

func parseVariableLines(scanner *bufio.Scanner, cfg *Config) error {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			// a comment line resets the coalescing state the VariableTable
			// tracks across consecutive inserts.
			cfg.Records = append(cfg.Records, configRecord{Reset: true})
			continue
		}

		rec, shadow, err := parseVariableLine(line)
		if err != nil {
			slog.Warn("knobprof: skipping malformed config line", "line", line, "error", err)
			continue
		}
		if shadow != nil {
			cfg.Records = append(cfg.Records, configRecord{Shadow: shadow})
		} else {
			cfg.Records = append(cfg.Records, configRecord{Variable: rec})
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// parseVariableLine parses one "<from>:<to>:<loc_atom>:<addr>:<size>" record.
// A size of 0 produces a shadowRecord instead of a variableRecord, per
// spec.md §4.C.
func parseVariableLine(line string) (*variableRecord, *shadowRecord, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 5 {
		return nil, nil, fmt.Errorf("expected 5 colon-separated fields, got %d", len(parts))
	}

	from, err := strconv.ParseUint(parts[0], 0, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("from-pc: %w", err)
	}
	to, err := strconv.ParseUint(parts[1], 0, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("to-pc: %w", err)
	}
	atomVal, err := strconv.ParseUint(parts[2], 0, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("loc_atom: %w", err)
	}
	addr, err := strconv.ParseInt(parts[3], 0, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("addr: %w", err)
	}
	size, err := strconv.ParseInt(parts[4], 0, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("size: %w", err)
	}

	atom := dwarfexpr.Atom(atomVal)
	if size == 0 {
		return nil, &shadowRecord{At: from, Atom: atom, Addr: addr}, nil
	}
	return &variableRecord{From: from, To: to, Atom: atom, Addr: addr, Size: int8(size)}, nil, nil
}

// resolveProgramName returns argv[0]'s base name, falling back to parsing
// /proc/<pid>/stat's "(comm)" field when argv[0] is unavailable, mirroring
// init_monitoring_vars's __progname fallback in gmon.c. The /proc parsing
// style follows ja7ad-consumption/pkg/system/proc's ReadProcStat.
func resolveProgramName(pid int) string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return readProcComm(pid)
}

func readProcComm(pid int) string {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	line := scanner.Text()

	// the comm field is parenthesized and may itself contain spaces or
	// parens, so anchor on the last ") " rather than splitting on spaces.
	openIdx := strings.Index(line, "(")
	closeIdx := strings.LastIndex(line, ")")
	if openIdx < 0 || closeIdx <= openIdx {
		return ""
	}
	return line[openIdx+1 : closeIdx]
}
