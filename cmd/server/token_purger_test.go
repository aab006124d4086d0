package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ipshow/internal/token"
)

type fakePurger struct {
	calls chan struct{}
	err   error
}

func newFakePurger() *fakePurger {
	return &fakePurger{calls: make(chan struct{}, 1)}
}

func (f *fakePurger) PurgeExpired() error {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.err
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartTokenPurgeWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	tokens := newFakePurger()
	tokens.err = errors.New("purge failed")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startTokenPurgeWorkerWithTicker(ctx, logger, tokens, time.Minute, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case <-tokens.calls:
	case <-time.After(time.Second):
		t.Fatal("expected purge to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartTokenPurgeWorkerDisabled(t *testing.T) {
	stop := startTokenPurgeWorker(context.Background(), nil, newFakePurger(), 0)
	stop()
	stop = startTokenPurgeWorker(context.Background(), nil, nil, time.Second)
	stop()
}

func TestTokenPurgeWorkerSweepsMemoryStore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := token.NewMemoryStore(token.WithTTL(time.Minute), token.WithClock(clock))
	if err := store.Issue(context.Background(), "stale"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	now = now.Add(2 * time.Minute)

	ticker := newManualTicker()
	stop := startTokenPurgeWorkerWithTicker(context.Background(), nil, store, time.Minute, func(time.Duration) purgeTicker {
		return ticker
	})
	defer stop()

	ticker.Tick()
	deadline := time.Now().Add(time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected expired token to be purged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
