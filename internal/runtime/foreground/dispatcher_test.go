package foreground

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcherFIFOAndClose(t *testing.T) {
	t.Parallel()

	d := New()
	var mu sync.Mutex
	order := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		i := i
		if err := d.Post("", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("unexpected post error: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order [1,2,3], got %+v", order)
	}
	stats := d.Stats()
	if stats.Posted != 3 || stats.Completed != 3 || stats.QueueDepth != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if err := d.Post("", func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestDispatcherCoalescesTailWithSameKey(t *testing.T) {
	t.Parallel()

	d := New()
	block := make(chan struct{})
	started := make(chan struct{})
	if err := d.Post("", func() {
		close(started)
		<-block
	}); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	<-started

	var mu sync.Mutex
	var seen []string
	record := func(v string) func() {
		return func() {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}
	}
	_ = d.Post("partial", record("he"))
	_ = d.Post("partial", record("hello"))
	_ = d.Post("", record("final"))
	_ = d.Post("partial", record("next"))
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Sync(ctx); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != "hello" || seen[1] != "final" || seen[2] != "next" {
		t.Fatalf("expected [hello final next], got %+v", seen)
	}
	if d.Stats().Coalesced != 1 {
		t.Fatalf("expected one coalesced item, got %+v", d.Stats())
	}
	_ = d.Close(ctx)
}

func TestDispatcherPostFromWorker(t *testing.T) {
	t.Parallel()

	d := New()
	done := make(chan struct{})
	if err := d.Post("", func() {
		_ = d.Post("", func() { close(done) })
	}); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected nested post to run")
	}
	_ = d.Close(context.Background())
}

func TestDispatcherRejectsNilRun(t *testing.T) {
	t.Parallel()

	d := New()
	defer d.Close(context.Background())
	if err := d.Post("", nil); !errors.Is(err, ErrRunRequired) {
		t.Fatalf("expected ErrRunRequired, got %v", err)
	}
}
