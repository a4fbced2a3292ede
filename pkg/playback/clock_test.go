package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockOrdersCallbacks(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	var order []string

	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() {
		order = append(order, "a")
		c.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	stopped := c.AfterFunc(1500*time.Millisecond, func() { order = append(order, "never") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, order)
	assert.Equal(t, time.Unix(3, 0), c.Now())
	assert.Equal(t, 0, c.Pending())
}

func TestRealClock(t *testing.T) {
	done := make(chan struct{})
	timer := RealClock{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())
}
