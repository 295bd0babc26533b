// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/edlink/lib/testutil"
)

func TestWriteThenRead(t *testing.T) {
	left, right := New()
	for _, value := range []any{"a", int64(2), map[string]any{"k": "v"}} {
		if err := left.Write(value); err != nil {
			t.Fatalf("Write(%v): %v", value, err)
		}
	}
	if right.Available() != 3 {
		t.Fatalf("Available = %d, want 3", right.Available())
	}
	if !left.Empty() {
		t.Error("writer's own inbound queue is not empty")
	}

	first, err := right.Read(context.Background())
	if err != nil || first != "a" {
		t.Fatalf("Read = %v, %v; want a", first, err)
	}
	second, ok := right.TryRead()
	if !ok || second != int64(2) {
		t.Fatalf("TryRead = %v, %v; want 2", second, ok)
	}
}

func TestBothDirections(t *testing.T) {
	left, right := New()
	left.Write("to right")
	right.Write("to left")

	if value, _ := right.TryRead(); value != "to right" {
		t.Errorf("right read %v", value)
	}
	if value, _ := left.TryRead(); value != "to left" {
		t.Errorf("left read %v", value)
	}
}

func TestBlockedReadersServedInOrder(t *testing.T) {
	left, right := New()
	ctx := context.Background()

	first := make(chan any, 1)
	second := make(chan any, 1)
	go func() {
		value, _ := right.Read(ctx)
		first <- value
	}()
	waitForWaiters(t, right, 1)
	go func() {
		value, _ := right.Read(ctx)
		second <- value
	}()
	waitForWaiters(t, right, 2)

	left.Write("A")
	left.Write("B")

	if got := testutil.RequireReceive(t, first, 5*time.Second, "first reader"); got != "A" {
		t.Errorf("first reader got %v, want A", got)
	}
	if got := testutil.RequireReceive(t, second, 5*time.Second, "second reader"); got != "B" {
		t.Errorf("second reader got %v, want B", got)
	}
}

func TestDirectDeliverySkipsListener(t *testing.T) {
	left, right := New()
	var calls atomic.Int32
	right.Listen(func() { calls.Add(1) })

	done := make(chan any, 1)
	go func() {
		value, _ := right.Read(context.Background())
		done <- value
	}()
	waitForWaiters(t, right, 1)
	left.Write("direct")

	testutil.RequireReceive(t, done, 5*time.Second, "blocked read")
	if calls.Load() != 0 {
		t.Errorf("listener called %d times for a directly delivered value", calls.Load())
	}
	left.Write("queued")
	if calls.Load() != 1 {
		t.Errorf("listener called %d times for a queued value, want 1", calls.Load())
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	left, right := New()
	right.Close()
	if err := left.Write("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after close = %v, want ErrClosed", err)
	}
	if left.IsOpen() || right.IsOpen() {
		t.Fatal("pipe still open after Close")
	}
}

func TestReadAfterCloseDrainsThenFails(t *testing.T) {
	left, right := New()
	left.Write("pending")
	left.Close()

	value, err := right.Read(context.Background())
	if err != nil || value != "pending" {
		t.Fatalf("Read = %v, %v; want pending", value, err)
	}
	if _, err := right.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Read on drained closed pipe = %v, want ErrClosed", err)
	}
}

func TestCloseWakesBlockedReaders(t *testing.T) {
	left, right := New()
	result := make(chan error, 1)
	go func() {
		_, err := right.Read(context.Background())
		result <- err
	}()
	waitForWaiters(t, right, 1)

	left.Close()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "blocked read"); !errors.Is(err, ErrClosed) {
		t.Fatalf("blocked Read = %v, want ErrClosed", err)
	}
}

func TestReadCancelled(t *testing.T) {
	left, right := New()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := right.Read(ctx)
		result <- err
	}()
	waitForWaiters(t, right, 1)
	cancel()

	if err := testutil.RequireReceive(t, result, 5*time.Second, "cancelled read"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Read = %v, want context.Canceled", err)
	}
	// The cancelled reader must not swallow the next value.
	left.Write("kept")
	if value, ok := right.TryRead(); !ok || value != "kept" {
		t.Fatalf("TryRead = %v, %v; want kept", value, ok)
	}
}

func TestCloseNotifiesPeerOnly(t *testing.T) {
	left, right := New()
	var leftCalls, rightCalls atomic.Int32
	left.Listen(func() { leftCalls.Add(1) })
	right.Listen(func() { rightCalls.Add(1) })

	left.Close()
	if rightCalls.Load() != 1 {
		t.Errorf("peer listener called %d times on close, want 1", rightCalls.Load())
	}
	if leftCalls.Load() != 0 {
		t.Errorf("closing end's listener called %d times, want 0", leftCalls.Load())
	}

	left.Close()
	if rightCalls.Load() != 1 {
		t.Errorf("second Close notified again")
	}
}

func TestListenerDrainLoop(t *testing.T) {
	left, right := New()
	var received []any
	closed := false
	right.Listen(func() {
		for {
			value, ok := right.TryRead()
			if !ok {
				break
			}
			received = append(received, value)
		}
		if !right.IsOpen() {
			closed = true
		}
	})

	left.Write(1)
	left.Write(2)
	left.Close()

	if len(received) != 2 || received[0] != 1 || received[1] != 2 {
		t.Errorf("received %v, want [1 2]", received)
	}
	if !closed {
		t.Error("drain loop did not observe closure")
	}
}

func TestUnsubscribe(t *testing.T) {
	left, right := New()
	var calls atomic.Int32
	unsubscribe := right.Listen(func() { calls.Add(1) })
	unsubscribe()
	left.Write("x")
	if calls.Load() != 0 {
		t.Fatalf("listener called after unsubscribe")
	}

	// A stale unsubscribe must not remove a newer listener.
	right.Listen(func() { calls.Add(1) })
	unsubscribe()
	left.Write("y")
	if calls.Load() != 1 {
		t.Fatalf("replacement listener called %d times, want 1", calls.Load())
	}
}

func TestDrop(t *testing.T) {
	left, right := New()
	for index := range 5 {
		left.Write(index)
	}
	if dropped := right.Drop(3); dropped != 3 {
		t.Fatalf("Drop(3) = %d", dropped)
	}
	if value, _ := right.TryRead(); value != 3 {
		t.Fatalf("after Drop, TryRead = %v, want 3", value)
	}
	if dropped := right.Drop(10); dropped != 1 {
		t.Fatalf("Drop(10) = %d, want 1", dropped)
	}
}

// waitForWaiters spins until n readers are blocked on p.
func waitForWaiters(t *testing.T, p *Pipe, n int) {
	t.Helper()
	ready := make(chan struct{})
	go func() {
		for {
			p.link.mu.Lock()
			count := len(p.inbound().waiters)
			p.link.mu.Unlock()
			if count >= n {
				close(ready)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	testutil.RequireClosed(t, ready, 5*time.Second, "waiting for %d blocked readers", n)
}
