package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignal_EmitOrder(t *testing.T) {
	var s Signal[int]
	var got []string

	s.Add(func(v int) { got = append(got, "first") })
	s.Add(func(v int) { got = append(got, "second") })
	s.Emit(1)

	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 2, s.Len())
}

func TestListener_RemoveIsIdempotent(t *testing.T) {
	var s Signal[struct{}]
	calls := 0
	l := s.Add(func(struct{}) { calls++ })

	assert.True(t, l.Active())
	assert.True(t, l.Remove())
	assert.False(t, l.Remove())
	assert.False(t, l.Active())

	s.Emit(struct{}{})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, s.Len())
}

func TestSignal_RemoveDuringEmit(t *testing.T) {
	var s Signal[string]
	var second *Listener[string]
	secondCalls := 0

	s.Add(func(string) { second.Remove() })
	second = s.Add(func(string) { secondCalls++ })

	s.Emit("x")
	s.Emit("y")

	assert.Equal(t, 0, secondCalls, "listener removed mid-emit must not fire")
	assert.Equal(t, 1, s.Len())
}

func TestSignal_AddDuringEmit(t *testing.T) {
	var s Signal[int]
	lateCalls := 0

	s.Add(func(int) {
		s.Add(func(int) { lateCalls++ })
	})

	s.Emit(0)
	assert.Equal(t, 0, lateCalls, "listener added mid-emit waits for the next emission")

	s.Emit(0)
	assert.Equal(t, 1, lateCalls)
}

func TestListener_NilRemove(t *testing.T) {
	var l *Listener[int]
	assert.False(t, l.Remove())
	assert.False(t, l.Active())
}
