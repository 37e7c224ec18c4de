package simulator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleEventLoop() {
	loop := NewEventLoopSeed(1)
	replies := loop.Stream()
	loop.Go(func(h *Handle) {
		event := h.Poll(replies)
		fmt.Println(event.Message, h.Time())
	})
	loop.Go(func(h *Handle) {
		h.Sleep(0.25)
		h.Schedule(replies, "claimed", 1)
	})
	loop.MustRun()
	// Output: claimed 1.25
}

func TestPollEarliestFirst(t *testing.T) {
	loop := NewEventLoop()
	am, nic, reply := loop.Stream(), loop.Stream(), loop.Stream()

	var got []interface{}
	loop.Go(func(h *Handle) {
		for i := 0; i < 3; i++ {
			// The order of the streams in Poll does not matter.
			got = append(got, h.Poll(reply, nic, am).Message)
		}
	})
	loop.Go(func(h *Handle) {
		h.Schedule(nic, "put", 2)
		h.Schedule(am, "call", 1)

		// Real time plays no part in delivery order.
		time.Sleep(time.Second / 10)
		h.Schedule(reply, "response", 3)
	})
	require.NoError(t, loop.Run())
	assert.Equal(t, []interface{}{"call", "put", "response"}, got)
	assert.EqualValues(t, 3, loop.Time())
}

func TestPendingEvents(t *testing.T) {
	loop := NewEventLoop()
	early, late := loop.Stream(), loop.Stream()

	var value interface{}
	loop.Go(func(h *Handle) {
		h.Poll(late)
		// This arrived long ago and waited in the stream.
		value = h.Poll(early).Message
	})
	loop.Go(func(h *Handle) {
		h.Schedule(early, 1, 1)
		h.Schedule(late, 2, 5)
	})
	require.NoError(t, loop.Run())
	assert.Equal(t, 1, value)
	assert.EqualValues(t, 5, loop.Time())
}

func TestCancel(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	var got []interface{}
	loop.Go(func(h *Handle) {
		retry := h.Schedule(stream, "retry", 1)
		h.Schedule(stream, "landed", 2)
		h.Cancel(retry)
		h.Cancel(retry)
		got = append(got, h.Poll(stream).Message)
	})
	require.NoError(t, loop.Run())
	assert.Equal(t, []interface{}{"landed"}, got)
	assert.EqualValues(t, 2, loop.Time())
}

func TestSimultaneousReceivers(t *testing.T) {
	// Three ranks wait on one stream; every order in which
	// they can be woken up should show up eventually.
	orderings := map[[3]int]bool{}
	for i := 0; i < 300; i++ {
		loop := NewEventLoopSeed(int64(i))
		stream := loop.Stream()
		var ordering [3]int
		for j := 0; j < 3; j++ {
			idx := j
			loop.Go(func(h *Handle) {
				ordering[idx] = h.Poll(stream).Message.(int)
			})
		}
		loop.Go(func(h *Handle) {
			for k := 1; k <= 3; k++ {
				h.Schedule(stream, k, float64(k))
			}
		})
		require.NoError(t, loop.Run())
		orderings[ordering] = true
	}
	assert.Len(t, orderings, 6)
}

func TestDeadlock(t *testing.T) {
	loop := NewEventLoop()
	a, b := loop.Stream(), loop.Stream()
	loop.Go(func(h *Handle) {
		h.Poll(a)
		h.Schedule(b, nil, 0)
	})
	loop.Go(func(h *Handle) {
		h.Poll(b)
		h.Schedule(a, nil, 0)
	})
	assert.Error(t, loop.Run())
}

func TestInvalidDeadline(t *testing.T) {
	loop := NewEventLoop()
	loop.Go(func(h *Handle) {
		assert.Panics(t, func() {
			h.Sleep(1 / zero())
		})
	})
	require.NoError(t, loop.Run())
}

func zero() float64 {
	return 0
}
