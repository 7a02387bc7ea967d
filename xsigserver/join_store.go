package xsigserver

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// JoinState is the last confirmed value of one join.
type JoinState[T comparable] struct {
	Value       T
	LastUpdate  time.Time
	UpdateCount uint64
}

// joinTable holds the states of one join type. Absent joins read as the zero value.
type joinTable[T comparable] struct {
	m *xsync.MapOf[int, JoinState[T]]
}

func newJoinTable[T comparable]() *joinTable[T] {
	return &joinTable[T]{m: xsync.NewMapOf[int, JoinState[T]]()}
}

func (t *joinTable[T]) get(join int) T {
	st, _ := t.m.Load(join)
	return st.Value
}

// update stores value for join and reports whether it differs from the previous one.
// The first value stored after a clear always counts as a change.
func (t *joinTable[T]) update(join int, value T) bool {
	changed := false
	t.m.Compute(join, func(old JoinState[T], loaded bool) (JoinState[T], bool) {
		changed = !loaded || old.Value != value
		return JoinState[T]{
			Value:       value,
			LastUpdate:  time.Now(),
			UpdateCount: old.UpdateCount + 1,
		}, false
	})

	return changed
}

func (t *joinTable[T]) clear() {
	t.m.Clear()
}

func (t *joinTable[T]) size() int {
	return t.m.Size()
}

func (t *joinTable[T]) snapshot() map[int]JoinState[T] {
	out := make(map[int]JoinState[T], t.m.Size())
	t.m.Range(func(join int, st JoinState[T]) bool {
		out[join] = st
		return true
	})

	return out
}

// joinStore holds the three join tables of a server.
type joinStore struct {
	digital *joinTable[bool]
	analog  *joinTable[uint16]
	serial  *joinTable[string]
}

func newJoinStore() *joinStore {
	return &joinStore{
		digital: newJoinTable[bool](),
		analog:  newJoinTable[uint16](),
		serial:  newJoinTable[string](),
	}
}

func (s *joinStore) clear() {
	s.digital.clear()
	s.analog.clear()
	s.serial.clear()
}

// Snapshot is a copy of the join tables, for diagnostics.
type Snapshot struct {
	Digital map[int]JoinState[bool]
	Analog  map[int]JoinState[uint16]
	Serial  map[int]JoinState[string]
}

func (s *joinStore) snapshot() Snapshot {
	return Snapshot{
		Digital: s.digital.snapshot(),
		Analog:  s.analog.snapshot(),
		Serial:  s.serial.snapshot(),
	}
}
