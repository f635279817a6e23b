package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/stealthrocket/knobprof/internal/gmonfmt"
)

// buildPprofFromGmon mirrors Profiler.ToPprofProfile in the root package,
// rebuilt here against the on-disk gmonfmt records directly so this tool
// can convert an artifact offline, without a running Profiler.
func buildPprofFromGmon(hdr gmonfmt.HistHeader, counts []uint16, arcs []gmonfmt.Arc) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "arcs", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
	}

	locByAddr := map[uint64]*profile.Location{}
	locFor := func(addr uint64) *profile.Location {
		if loc, ok := locByAddr[addr]; ok {
			return loc
		}
		loc := &profile.Location{ID: uint64(len(prof.Location)) + 1, Address: addr}
		prof.Location = append(prof.Location, loc)
		locByAddr[addr] = loc
		return loc
	}

	bucketWidth := uint64(4)
	if hdr.HistSize > 0 && hdr.HighPC > hdr.LowPC {
		bucketWidth = (hdr.HighPC - hdr.LowPC) / uint64(hdr.HistSize)
		if bucketWidth == 0 {
			bucketWidth = 1
		}
	}

	for i, c := range counts {
		if c == 0 {
			continue
		}
		addr := hdr.LowPC + uint64(i)*bucketWidth
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{locFor(addr)},
			Value:    []int64{int64(c), 0},
		})
	}
	for _, a := range arcs {
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{locFor(a.SelfPC)},
			Value:    []int64{0, int64(a.Count)},
		})
	}

	return prof
}

// schemaEntry is one parsed line of an irpass schema.txt file:
// "directory filename function line name type tag".
type schemaEntry struct {
	Directory string
	Filename  string
	Function  string
	Line      int
	Name      string
	Type      string
	Tag       string
}

func readSchema(path string) ([]schemaEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []schemaEntry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 7 {
			return nil, fmt.Errorf("schema.txt:%d: expected 7 fields, got %d", lineNo, len(fields))
		}
		lineNum, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("schema.txt:%d: bad line number: %w", lineNo, err)
		}
		entries = append(entries, schemaEntry{
			Directory: fields[0],
			Filename:  fields[1],
			Function:  fields[2],
			Line:      lineNum,
			Name:      fields[4],
			Type:      fields[5],
			Tag:       fields[6],
		})
	}
	return entries, scanner.Err()
}
