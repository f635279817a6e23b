package bucket

import "testing"

func TestIndexPowerOfTwoStride(t *testing.T) {
	lowpc := uint64(0x4000000)
	textsize := uint64(0x1000)
	stride := uint64(4) // HASHFRACTION * wordsize, contrived power of two
	log := Log2(stride)

	cases := []struct {
		pc   uint64
		want int64
	}{
		{0x4000000, 0},
		{0x4000004, 1},
		{0x3fff000, -1},        // below lowpc
		{0x4000000 + textsize + 1, -1}, // past the rounded window
	}
	for _, c := range cases {
		if got := Index(c.pc, lowpc, textsize, stride, log); got != c.want {
			t.Errorf("Index(%#x) = %d, want %d", c.pc, got, c.want)
		}
	}
}

func TestIndexNonPowerOfTwoStride(t *testing.T) {
	lowpc := uint64(0x1000)
	textsize := uint64(0x3000)
	stride := uint64(6)
	if got := Index(0x1000+12, lowpc, textsize, stride, Log2(stride)); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestLog2(t *testing.T) {
	if Log2(8) != 3 {
		t.Fatal("Log2(8) should be 3")
	}
	if Log2(6) != -1 {
		t.Fatal("Log2(6) should be -1, not a power of two")
	}
}

func TestRoundDownUp(t *testing.T) {
	if RoundDown(13, 4) != 12 {
		t.Fatal("RoundDown mismatch")
	}
	if RoundUp(13, 4) != 16 {
		t.Fatal("RoundUp mismatch")
	}
	if RoundUp(16, 4) != 16 {
		t.Fatal("RoundUp exact multiple should be unchanged")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 10, 20) != 10 {
		t.Fatal("Clamp should raise below lo")
	}
	if Clamp(25, 10, 20) != 20 {
		t.Fatal("Clamp should lower above hi")
	}
	if Clamp(15, 10, 20) != 15 {
		t.Fatal("Clamp should pass through in-range values")
	}
}
