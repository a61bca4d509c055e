package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockDrainer struct {
	sync.Mutex
	drains int
	err    error
	gate   chan struct{}
	calls  chan struct{}
}

func newMockDrainer() *mockDrainer {
	return &mockDrainer{calls: make(chan struct{}, 100)}
}

func (m *mockDrainer) Drain(ctx context.Context) (int, error) {
	m.calls <- struct{}{}
	if m.gate != nil {
		<-m.gate
	}

	m.Lock()
	defer m.Unlock()
	m.drains++
	return 1, m.err
}

func (m *mockDrainer) WorkerId() string {
	return "relay-test"
}

func (m *mockDrainer) Drains() int {
	m.Lock()
	defer m.Unlock()
	return m.drains
}

func (m *mockDrainer) waitForDrain(t *testing.T) {
	t.Helper()
	select {
	case <-m.calls:
	case <-time.After(time.Second):
		t.Fatal("expected a drain within 1s, but there was none")
	}
}

func TestNew(t *testing.T) {
	p := New(newMockDrainer(), time.Second)
	if p == nil || cap(p.wake) != 1 {
		t.Errorf("expected a poller with a single pending wake slot")
	}
}

func TestPoller_Poll(t *testing.T) {
	t.Run("it drains on start and on every tick", func(t *testing.T) {
		d := newMockDrainer()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go New(d, 10*time.Millisecond).Poll(ctx)

		d.waitForDrain(t)
		d.waitForDrain(t)
		d.waitForDrain(t)
	})

	t.Run("it drains when woken", func(t *testing.T) {
		d := newMockDrainer()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := New(d, time.Hour)
		go p.Poll(ctx)
		d.waitForDrain(t)

		p.Wake()
		d.waitForDrain(t)
	})

	t.Run("it coalesces wakes during a drain", func(t *testing.T) {
		d := newMockDrainer()
		d.gate = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := New(d, time.Hour)
		go p.Poll(ctx)
		d.waitForDrain(t)

		for i := 0; i < 5; i++ {
			p.Wake()
		}

		d.gate <- struct{}{}
		d.waitForDrain(t)
		d.gate <- struct{}{}

		select {
		case <-d.calls:
			t.Error("expected the wakes to be coalesced into a single drain")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("it keeps polling after a drain error", func(t *testing.T) {
		d := newMockDrainer()
		d.err = errors.New("database unavailable")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go New(d, 10*time.Millisecond).Poll(ctx)

		d.waitForDrain(t)
		d.waitForDrain(t)
	})

	t.Run("it stops when the context is cancelled", func(t *testing.T) {
		d := newMockDrainer()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			New(d, time.Hour).Poll(ctx)
			close(done)
		}()
		d.waitForDrain(t)

		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("Poll did not return after the context was cancelled")
		}
	})
}
