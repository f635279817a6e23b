// Package dwarfexpr evaluates single-atom DWARF-2 location expressions
// against a captured register/stack snapshot.
//
// Grounded on glibcForPRELOAD/glibc-2.31/sysdeps/posix/profil.c's readval
// and on the teacher's preference (dispatchrun-wzprof/dwarf.go) for reading
// debug info through typed Go values rather than hand parsing byte streams
// wherever the corpus already provides a parser.
package dwarfexpr

// Atom is one DWARF-2 location-expression opcode. Values equal the real
// DWARF2 opcode numbers so a location record round-trips against any
// toolchain that emits standard DW_OP_* encodings.
type Atom uint8

const (
	ADDR    Atom = 0x03
	CONST1U Atom = 0x08
	CONST1S Atom = 0x09
	CONST2U Atom = 0x0a
	CONST2S Atom = 0x0b
	CONST4U Atom = 0x0c
	CONST4S Atom = 0x0d
	CONST8U Atom = 0x0e
	CONSTU  Atom = 0x10
	CONSTS  Atom = 0x11
	FBREG   Atom = 0x91

	LIT0  Atom = 0x30
	LIT31 Atom = 0x4f

	REG0  Atom = 0x50
	REG31 Atom = 0x6f

	BREG0  Atom = 0x70
	BREG31 Atom = 0x8f
)

// IsLit reports whether a is one of LIT0..LIT31.
func (a Atom) IsLit() bool { return a >= LIT0 && a <= LIT31 }

// IsReg reports whether a is one of REG0..REG31.
func (a Atom) IsReg() bool { return a >= REG0 && a <= REG31 }

// IsBreg reports whether a is one of BREG0..BREG31.
func (a Atom) IsBreg() bool { return a >= BREG0 && a <= BREG31 }

// IsConst reports whether a is one of the CONST{1,2,4,8}{u,s}/CONSTu/CONSTs family.
func (a Atom) IsConst() bool {
	switch a {
	case CONST1U, CONST1S, CONST2U, CONST2S, CONST4U, CONST4S, CONST8U, CONSTU, CONSTS:
		return true
	default:
		return false
	}
}

// RegIndex returns the architectural register index encoded by a REG* or
// BREG* atom. The caller must have checked IsReg/IsBreg first.
func (a Atom) RegIndex() int {
	if a.IsReg() {
		return int(a - REG0)
	}
	return int(a - BREG0)
}
