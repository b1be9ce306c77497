package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/sentinel/internal/logging"
)

type fakePinger struct {
	mu  sync.Mutex
	err map[string]error
}

func (f *fakePinger) Ping(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err[addr]
}

func (f *fakePinger) setErr(addr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = make(map[string]error)
	}
	f.err[addr] = err
}

func TestAddNodeStartsActive(t *testing.T) {
	pinger := &fakePinger{}
	m := New(pinger, time.Hour, 10*time.Minute, logging.Nop())
	m.AddNode("peer-1", "peer-1:8080")

	metrics := m.GetHealthMetrics()
	if metrics.ActiveNodes != 1 || metrics.TotalNodes != 1 {
		t.Fatalf("metrics = %+v, want 1 active of 1 total", metrics)
	}
}

func TestTickMarksUnreachablePeerFailed(t *testing.T) {
	pinger := &fakePinger{}
	pinger.setErr("peer-1:8080", errors.New("unreachable"))

	var failedID string
	m := New(pinger, time.Hour, 10*time.Minute, logging.Nop())
	m.SetOnFailure(func(id string) { failedID = id })
	m.AddNode("peer-1", "peer-1:8080")

	m.tick(context.Background())
	// onFailure is invoked asynchronously; give it a moment.
	time.Sleep(20 * time.Millisecond)

	metrics := m.GetHealthMetrics()
	if metrics.FailedNodes != 1 {
		t.Fatalf("expected 1 failed node, got %+v", metrics)
	}
	if failedID != "peer-1" {
		t.Errorf("onFailure callback did not fire with the expected node id")
	}
}

func TestRemoveNodeTriggersFailureCallback(t *testing.T) {
	pinger := &fakePinger{}
	m := New(pinger, time.Hour, 10*time.Minute, logging.Nop())

	var called bool
	m.SetOnFailure(func(id string) { called = true })
	m.AddNode("peer-1", "peer-1:8080")
	m.RemoveNode("peer-1")

	if !called {
		t.Errorf("expected RemoveNode to trigger the failure callback")
	}
	metrics := m.GetHealthMetrics()
	if metrics.ActiveNodes != 0 {
		t.Errorf("expected removed node to no longer be active")
	}
}

func TestMaybeRecoverRestoresPeerAfterTimeout(t *testing.T) {
	pinger := &fakePinger{}
	m := New(pinger, time.Hour, 0, logging.Nop())
	m.AddNode("peer-1", "peer-1:8080")
	m.RemoveNode("peer-1")

	m.maybeRecover(context.Background(), "peer-1")

	metrics := m.GetHealthMetrics()
	if metrics.ActiveNodes != 1 {
		t.Fatalf("expected peer to recover, got metrics %+v", metrics)
	}
}

func TestStopReturnsPromptly(t *testing.T) {
	pinger := &fakePinger{}
	m := New(pinger, 50*time.Millisecond, time.Minute, logging.Nop())
	m.AddNode("peer-1", "peer-1:8080")
	m.Start(context.Background())

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}
}
