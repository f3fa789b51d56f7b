package wordimpact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryDeliversInOrder(t *testing.T) {
	r := NewRegistry(discardLogger())
	var got []int
	r.On("x", func(Event) { got = append(got, 1) })
	r.On("x", func(Event) { got = append(got, 2) })
	r.On("y", func(Event) { got = append(got, 99) })

	r.emit("x", RawEvent{Name: "x"})
	assert.Equal(t, []int{1, 2}, got)
}

func TestRegistryIsolatesPanics(t *testing.T) {
	r := NewRegistry(discardLogger())
	delivered := false
	r.On(EventNewMessage, func(Event) { panic("listener bug") })
	r.On(EventNewMessage, func(Event) { delivered = true })

	assert.NotPanics(t, func() { r.emit(EventNewMessage, NewMessageEvent{}) })
	assert.True(t, delivered)
}

func TestRegistryOff(t *testing.T) {
	r := NewRegistry(discardLogger())
	calls := 0
	l := func(Event) { calls++ }

	a := r.On("x", l)
	b := r.On("x", l)
	assert.Equal(t, 2, r.Len("x"))

	r.emit("x", RawEvent{Name: "x"})
	assert.Equal(t, 2, calls, "same func registered twice is delivered twice")

	r.Off(a)
	r.emit("x", RawEvent{Name: "x"})
	assert.Equal(t, 3, calls)

	b.Cancel()
	b.Cancel()
	r.Off(a)
	assert.Equal(t, 0, r.Len("x"))
	r.emit("x", RawEvent{Name: "x"})
	assert.Equal(t, 3, calls)
}

func TestRegistryOffDuringEmit(t *testing.T) {
	r := NewRegistry(discardLogger())
	var second Subscription
	secondCalls := 0
	r.On("x", func(Event) { r.Off(second) })
	second = r.On("x", func(Event) { secondCalls++ })

	r.emit("x", RawEvent{Name: "x"})
	assert.Equal(t, 1, secondCalls, "removal applies from the next emit")
	r.emit("x", RawEvent{Name: "x"})
	assert.Equal(t, 1, secondCalls)
}
