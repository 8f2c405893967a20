package services

import (
	"reflect"
	"testing"
	"time"
)

func TestFakeClockFiresInOrder(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	var fired []string
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	c.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		c.AfterFunc(time.Second, func() { fired = append(fired, "b") })
	})
	stopped := c.AfterFunc(2*time.Second, func() { fired = append(fired, "x") })
	if !stopped.Stop() {
		t.Error("Stop on armed timer returned false")
	}

	c.Advance(2500 * time.Millisecond)
	if want := []string{"a", "b"}; !reflect.DeepEqual(fired, want) {
		t.Errorf("fired = %v, want %v", fired, want)
	}
	if got := c.Now(); !got.Equal(time.Unix(2, 500000000)) {
		t.Errorf("Now() = %v, want 2.5s", got)
	}
	c.Advance(time.Second)
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(fired, want) {
		t.Errorf("fired = %v, want %v", fired, want)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}
