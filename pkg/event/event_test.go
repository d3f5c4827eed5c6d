package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEmitter_FireInOrder(t *testing.T) {
	var e Emitter[string]
	var got []string

	first := e.Subscribe(func(v string) { got = append(got, "first:"+v) })
	e.Subscribe(func(v string) { got = append(got, "second:"+v) })

	e.Fire("a")
	first.Dispose()
	first.Dispose()
	e.Fire("b")

	want := []string{"first:a", "second:a", "second:b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	if e.Len() != 1 {
		t.Errorf("Len = %d, want 1", e.Len())
	}
}

func TestEmitter_PanicDoesNotStopDelivery(t *testing.T) {
	var e Emitter[int]
	var after int
	e.Subscribe(func(int) { panic("handler bug") })
	e.Subscribe(func(v int) { after = v })

	e.Fire(7)
	if after != 7 {
		t.Errorf("second handler got %d, want 7", after)
	}
}

func TestEmitter_DisposeDuringFire(t *testing.T) {
	var e Emitter[int]
	calls := 0
	var sub *Subscription[int]
	sub = e.Subscribe(func(int) {
		calls++
		sub.Dispose()
	})

	e.Fire(1)
	e.Fire(2)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDisposeFunc_RunsOnce(t *testing.T) {
	n := 0
	d := DisposeFunc(func() { n++ })
	d.Dispose()
	d.Dispose()
	if n != 1 {
		t.Errorf("dispose ran %d times, want 1", n)
	}
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	fired := make(chan struct{}, 4)
	d := NewDebouncer(20*time.Millisecond, func() {
		calls.Add(1)
		fired <- struct{}{}
	})
	defer d.Stop()

	for range 5 {
		d.Schedule()
	}
	if !d.Pending() {
		t.Fatal("expected a pending callback")
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
	if d.Pending() {
		t.Error("still pending after the callback ran")
	}
}

func TestDebouncer_Flush(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() { calls.Add(1) })
	defer d.Stop()

	d.Flush()
	if calls.Load() != 0 {
		t.Fatal("Flush ran the callback with nothing pending")
	}

	d.Schedule()
	d.Flush()
	if calls.Load() != 1 {
		t.Fatalf("calls = %d after Flush, want 1", calls.Load())
	}
	if d.Pending() {
		t.Error("pending after Flush")
	}
}

func TestDebouncer_Stop(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { calls.Add(1) })

	d.Schedule()
	d.Stop()
	d.Schedule()
	d.Flush()
	time.Sleep(40 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("calls = %d after Stop, want 0", n)
	}
}
