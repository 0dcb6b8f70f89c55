package buffer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRing_PushRecvOrder(t *testing.T) {
	r := NewRing[int](8)

	for i := 0; i < 5; i++ {
		if !r.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		val, err := r.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}
}

func TestRing_DropOldestWhenFull(t *testing.T) {
	r := NewRing[int](4)

	// Push 10 into a ring of 4: only the 4 newest survive, in order.
	for i := 0; i < 10; i++ {
		r.Push(i)
	}

	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
	if r.Dropped() != 6 {
		t.Errorf("Dropped() = %d, want 6", r.Dropped())
	}

	for _, want := range []int{6, 7, 8, 9} {
		got, ok := r.TryRecv()
		if !ok {
			t.Fatalf("TryRecv failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestRing_PollLatest(t *testing.T) {
	r := NewRing[string](8)

	if _, ok := r.PollLatest(); ok {
		t.Error("PollLatest on empty ring should return false")
	}

	r.Push("t1")
	r.Push("t2")
	r.Push("t3")

	got, ok := r.PollLatest()
	if !ok {
		t.Fatal("PollLatest returned false")
	}
	if got != "t3" {
		t.Errorf("PollLatest = %q, want t3", got)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after PollLatest = %d, want 0", r.Len())
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", r.Dropped())
	}
}

func TestRing_PollLatestAfterWrap(t *testing.T) {
	r := NewRing[int](3)

	for i := 0; i < 7; i++ {
		r.Push(i)
	}

	got, ok := r.PollLatest()
	if !ok || got != 6 {
		t.Errorf("PollLatest = %d, %v; want 6, true", got, ok)
	}
}

func TestRing_RecvBlocksUntilPush(t *testing.T) {
	r := NewRing[int](4)

	received := make(chan int, 1)
	go func() {
		val, err := r.Recv(context.Background())
		if err == nil {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Recv")
	}
}

func TestRing_CloseUnblocksRecv(t *testing.T) {
	r := NewRing[int](4)

	done := make(chan error, 1)
	go func() {
		_, err := r.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Recv after Close = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Recv")
	}

	if r.Push(1) {
		t.Error("Push should return false after Close")
	}
}

func TestRing_CloseDrainsRemaining(t *testing.T) {
	r := NewRing[int](4)

	r.Push(1)
	r.Push(2)
	r.Close()

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		got, err := r.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}

	if _, err := r.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv on drained closed ring = %v, want ErrClosed", err)
	}
}

func TestRing_RecvContextCancel(t *testing.T) {
	r := NewRing[int](4)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := r.Recv(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Recv after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock Recv")
	}
}

func TestNewRing_DefaultCapacity(t *testing.T) {
	r := NewRing[int](0)
	if r.Cap() != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", r.Cap(), DefaultCapacity)
	}

	r = NewRing[int](-3)
	if r.Cap() != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", r.Cap(), DefaultCapacity)
	}
}
