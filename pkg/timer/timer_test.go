package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFiresRepeatedly(t *testing.T) {
	tm := New("t")
	var count int64
	tm.Schedule(20*time.Millisecond, func() {
		atomic.AddInt64(&count, 1)
	})
	defer tm.Stop()

	time.Sleep(110 * time.Millisecond)
	got := atomic.LoadInt64(&count)
	if got < 3 || got > 7 {
		t.Fatalf("expected roughly 5 fires in 110ms at 20ms interval, got %d", got)
	}
}

func TestStopPreventsFurtherFires(t *testing.T) {
	tm := New("t")
	var count int64
	tm.Schedule(15*time.Millisecond, func() {
		atomic.AddInt64(&count, 1)
	})
	time.Sleep(50 * time.Millisecond)
	tm.Stop()
	after := atomic.LoadInt64(&count)

	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt64(&count) != after {
		t.Fatalf("callback fired after Stop: before=%d after=%d", after, atomic.LoadInt64(&count))
	}
}

func TestResetRearmsAtNewInterval(t *testing.T) {
	tm := New("t")
	var count int64
	tm.Schedule(200*time.Millisecond, func() {
		atomic.AddInt64(&count, 1)
	})
	defer tm.Stop()

	// Reset well before the first long fire would land; the callback must
	// then fire repeatedly at the new, shorter interval.
	time.Sleep(10 * time.Millisecond)
	tm.Reset(20 * time.Millisecond)

	time.Sleep(110 * time.Millisecond)
	got := atomic.LoadInt64(&count)
	if got < 3 || got > 8 {
		t.Fatalf("expected several fires at the new interval, got %d", got)
	}
}
