package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type flakyProber struct {
	fail int32 // atomic bool: 1 = probe fails
}

func (f *flakyProber) Probe(ctx context.Context) (time.Duration, error) {
	if atomic.LoadInt32(&f.fail) == 1 {
		return 0, errors.New("probe failed")
	}
	return time.Millisecond, nil
}

func TestCheckNodeTransitionsEmitEvents(t *testing.T) {
	p := &flakyProber{}
	m := New(map[int]Prober{1: p}, time.Minute)

	// Unknown -> Online: no event (only Online->Offline / Offline->Online fire).
	st := m.CheckNode(context.Background(), 1)
	if st.State != Online {
		t.Fatalf("state = %v, want Online", st.State)
	}

	atomic.StoreInt32(&p.fail, 1)
	m.CheckNode(context.Background(), 1)

	select {
	case ev := <-m.Events():
		if ev.Failure == nil || ev.Failure.NodeID != 1 {
			t.Fatalf("expected failure event for node 1, got %+v", ev)
		}
	default:
		t.Fatal("expected a failure event")
	}

	atomic.StoreInt32(&p.fail, 0)
	m.CheckNode(context.Background(), 1)

	select {
	case ev := <-m.Events():
		if ev.Recovery == nil || ev.Recovery.NodeID != 1 {
			t.Fatalf("expected recovery event for node 1, got %+v", ev)
		}
	default:
		t.Fatal("expected a recovery event")
	}
}

func TestCheckNodeExactlyOneEventPerTransition(t *testing.T) {
	p := &flakyProber{}
	m := New(map[int]Prober{1: p}, time.Minute)

	m.CheckNode(context.Background(), 1) // Unknown -> Online

	atomic.StoreInt32(&p.fail, 1)
	m.CheckNode(context.Background(), 1) // Online -> Offline: 1 event
	m.CheckNode(context.Background(), 1) // Offline -> Offline: no event
	m.CheckNode(context.Background(), 1) // Offline -> Offline: no event

	count := drainCount(m.Events())
	if count != 1 {
		t.Fatalf("got %d failure events, want exactly 1", count)
	}
}

func drainCount(ch <-chan Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func TestAvailabilityStats(t *testing.T) {
	probers := map[int]Prober{
		1: &flakyProber{}, 2: &flakyProber{}, 3: &flakyProber{}, 4: &flakyProber{},
	}
	m := New(probers, time.Minute)
	m.CheckAll(context.Background())

	stats := m.AvailabilityStats(3)
	if stats.Status != Operational {
		t.Fatalf("status = %v, want Operational", stats.Status)
	}

	atomic.StoreInt32(probers[1].(*flakyProber).failPtr(), 1)
	m.CheckNode(context.Background(), 1)
	stats = m.AvailabilityStats(3)
	if stats.Status != Degraded {
		t.Fatalf("status = %v, want Degraded", stats.Status)
	}

	atomic.StoreInt32(probers[2].(*flakyProber).failPtr(), 1)
	m.CheckNode(context.Background(), 2)
	stats = m.AvailabilityStats(3)
	if stats.Status != Critical {
		t.Fatalf("status = %v, want Critical", stats.Status)
	}
}

func (f *flakyProber) failPtr() *int32 { return &f.fail }

func TestStartStopIdempotent(t *testing.T) {
	m := New(map[int]Prober{1: &flakyProber{}}, time.Minute)
	m.Start(10 * time.Millisecond)
	m.Start(10 * time.Millisecond) // no-op, must not panic or double-tick
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop() // no-op
}
