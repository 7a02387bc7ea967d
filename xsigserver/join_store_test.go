package xsigserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinTable_Update(t *testing.T) {
	require := require.New(t)

	tbl := newJoinTable[uint16]()
	require.Zero(tbl.get(1))

	require.True(tbl.update(1, 0), "first value counts as a change")
	require.False(tbl.update(1, 0))
	require.True(tbl.update(1, 500))
	require.Equal(uint16(500), tbl.get(1))

	snap := tbl.snapshot()
	require.Len(snap, 1)
	require.Equal(uint64(3), snap[1].UpdateCount)
	require.False(snap[1].LastUpdate.IsZero())

	tbl.clear()
	require.Zero(tbl.size())
	require.Zero(tbl.get(1))
	require.True(tbl.update(1, 500), "first value after clear counts as a change")
}

func TestJoinStore_Clear(t *testing.T) {
	require := require.New(t)

	s := newJoinStore()
	s.digital.update(10, true)
	s.analog.update(1, 1000)
	s.serial.update(3, "hi")

	snap := s.snapshot()
	require.True(snap.Digital[10].Value)
	require.Equal(uint16(1000), snap.Analog[1].Value)
	require.Equal("hi", snap.Serial[3].Value)

	s.clear()
	snap = s.snapshot()
	require.Empty(snap.Digital)
	require.Empty(snap.Analog)
	require.Empty(snap.Serial)

	require.False(s.digital.get(10))
}
