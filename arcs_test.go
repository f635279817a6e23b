package knobprof

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArcTableRecordAndCount(t *testing.T) {
	at := NewArcTable(0x4000000, 0x4001000)

	at.Record(0x4000010, 0x4000500)
	at.Record(0x4000010, 0x4000500)
	at.Record(0x4000010, 0x4000600)

	arcs := at.Arcs()
	require.Len(t, arcs, 2)

	var foundDup bool
	for _, a := range arcs {
		if a.SelfPC == 0x4000500 {
			assert.EqualValues(t, 2, a.Count)
			foundDup = true
		}
	}
	assert.True(t, foundDup)
}

func TestArcTableConcurrentRecord(t *testing.T) {
	at := NewArcTable(0x4000000, 0x4001000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at.Record(0x4000010, 0x4000500)
		}()
	}
	wg.Wait()

	arcs := at.Arcs()
	require.Len(t, arcs, 1)
	assert.EqualValues(t, 100, arcs[0].Count)
}

func TestArcTableOutOfRangeCallerIsNoop(t *testing.T) {
	at := NewArcTable(0x4000000, 0x4001000)
	at.Record(0x1000, 0x4000500)
	assert.Empty(t, at.Arcs())
}
