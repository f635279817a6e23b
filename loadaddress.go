package knobprof

import (
	"bufio"
	"debug/elf"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var (
	loadAddressOnce  sync.Once
	loadAddressValue uint64
)

// LoadAddress returns the main executable's runtime load base, captured
// once and cached thereafter (spec.md §3's invariant that load_address is
// monotonic after linkage is quiescent). This is the Go-idiomatic
// equivalent of walking the dynamic linker's phdr list via
// dl_iterate_phdr and taking the entry whose name is empty (gmon.c's
// callback): on Linux, it is 0 for a non-PIE (ET_EXEC) binary, and for a
// PIE binary it is the start of the first /proc/self/maps mapping whose
// pathname is the running binary's resolved path, minus that mapping's
// file offset.
func LoadAddress() uint64 {
	loadAddressOnce.Do(func() {
		loadAddressValue = readLoadAddress()
	})
	return loadAddressValue
}

func readLoadAddress() uint64 {
	self, err := os.Executable()
	if err != nil {
		return 0
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return 0
	}

	// a non-PIE executable's first mapping already starts at its link
	// address, so its load offset is 0; only a PIE binary's mapping start
	// is itself the ASLR base.
	if ef, err := elf.Open(self); err == nil {
		typ := ef.Type
		ef.Close()
		if typ == elf.ET_EXEC {
			return 0
		}
	}

	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if fields[5] != self {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		return start - offset
	}
	return 0
}
