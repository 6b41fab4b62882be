package clock

import (
	"testing"
	"time"
)

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	c := NewFakeClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	ch := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		if want := time.Date(2024, 3, 6, 10, 0, 3, 0, time.UTC); !fired.Equal(want) {
			t.Fatalf("expected fire at %v, got %v", want, fired)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFakeClockAfterZeroFiresImmediately(t *testing.T) {
	c := NewFakeClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero delay must fire immediately")
	}
}

func TestFakeClockSetFiresDueTimers(t *testing.T) {
	c := NewFakeClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	ch := c.After(time.Minute)

	c.Set(time.Date(2024, 3, 6, 10, 2, 0, 0, time.UTC))
	select {
	case <-ch:
	default:
		t.Fatal("moving past the deadline must fire the timer")
	}
}
