package msgqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueue_ProcessesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int64

	q := New(Config{
		Process: func(_ context.Context, item *Item) error {
			// Item 2 takes longer than item 3 would; arrival order
			// must still win.
			if item.ID == 2 {
				time.Sleep(50 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, item.ID)
			mu.Unlock()
			return nil
		},
	})

	ctx := context.Background()
	items := []*Item{
		q.Enqueue(ctx, "one"),
		q.Enqueue(ctx, "two"),
		q.Enqueue(ctx, "three"),
	}
	for _, it := range items {
		if err := it.Wait(ctx); err != nil {
			t.Fatalf("item %d failed: %v", it.ID, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int64{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("processed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("processed %v, want %v", order, want)
			break
		}
	}
}

func TestEnqueue_MonotonicIDs(t *testing.T) {
	q := New(Config{
		Process: func(context.Context, *Item) error { return nil },
	})

	ctx := context.Background()
	var prev int64
	for range 10 {
		item := q.Enqueue(ctx, nil)
		if item.ID <= prev {
			t.Fatalf("id %d not greater than previous %d", item.ID, prev)
		}
		prev = item.ID
	}
}

func TestFailureDoesNotStopDrain(t *testing.T) {
	boom := errors.New("boom")
	q := New(Config{
		Process: func(_ context.Context, item *Item) error {
			if item.ID == 2 {
				return boom
			}
			return nil
		},
	})

	ctx := context.Background()
	first := q.Enqueue(ctx, nil)
	second := q.Enqueue(ctx, nil)
	third := q.Enqueue(ctx, nil)

	if err := first.Wait(ctx); err != nil {
		t.Errorf("item 1 error = %v, want nil", err)
	}

	err := second.Wait(ctx)
	if err == nil {
		t.Fatal("item 2 should fail")
	}
	var pe *ItemProcessingError
	if !errors.As(err, &pe) {
		t.Errorf("item 2 error = %T, want *ItemProcessingError", err)
	} else if pe.ID != 2 {
		t.Errorf("error item id = %d, want 2", pe.ID)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error should wrap the processing error")
	}

	if err := third.Wait(ctx); err != nil {
		t.Errorf("item 3 error = %v, want nil (failure is queue-local)", err)
	}
}

func TestSingleFlight(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	q := New(Config{
		Process: func(context.Context, *Item) error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		},
	})

	ctx := context.Background()
	var items []*Item
	var wg sync.WaitGroup
	var itemsMu sync.Mutex
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := q.Enqueue(ctx, nil)
			itemsMu.Lock()
			items = append(items, it)
			itemsMu.Unlock()
		}()
	}
	wg.Wait()
	for _, it := range items {
		if err := it.Wait(ctx); err != nil {
			t.Fatalf("item failed: %v", err)
		}
	}

	if maxInFlight != 1 {
		t.Errorf("max concurrent processing = %d, want 1", maxInFlight)
	}
}

func TestEnqueueDuringDrain(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var processed []int64

	q := New(Config{
		Process: func(_ context.Context, item *Item) error {
			if item.ID == 1 {
				<-release
			}
			mu.Lock()
			processed = append(processed, item.ID)
			mu.Unlock()
			return nil
		},
	})

	ctx := context.Background()
	first := q.Enqueue(ctx, nil)

	// Arrives while item 1 is mid-flight; the loop must pick it up
	// before going idle.
	second := q.Enqueue(ctx, nil)
	close(release)

	if err := first.Wait(ctx); err != nil {
		t.Fatalf("item 1 failed: %v", err)
	}
	if err := second.Wait(ctx); err != nil {
		t.Fatalf("item 2 failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 2 || processed[0] != 1 || processed[1] != 2 {
		t.Errorf("processed = %v, want [1 2]", processed)
	}
}

func TestCancelledCallerDoesNotPoisonLaterItems(t *testing.T) {
	var mu sync.Mutex
	ctxErrs := make(map[int64]error)

	q := New(Config{
		Process: func(ctx context.Context, item *Item) error {
			if item.ID == 1 {
				// Block until this item's own caller goes away.
				<-ctx.Done()
			}
			mu.Lock()
			ctxErrs[item.ID] = ctx.Err()
			mu.Unlock()
			return ctx.Err()
		},
	})

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := q.Enqueue(ctx1, nil)
	second := q.Enqueue(context.Background(), nil)

	cancel1()

	if err := first.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("item 1 error = %v, want context.Canceled", err)
	}
	if err := second.Wait(context.Background()); err != nil {
		t.Errorf("item 2 error = %v, want nil (caller 1's cancellation is not item 2's)", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ctxErrs[2] != nil {
		t.Errorf("item 2 processed under ctx.Err() = %v, want nil", ctxErrs[2])
	}
}

func TestItemErrBeforeSettle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	q := New(Config{
		Process: func(context.Context, *Item) error {
			close(started)
			<-release
			return nil
		},
	})

	ctx := context.Background()
	item := q.Enqueue(ctx, nil)
	<-started

	if err := item.Err(); err != nil {
		t.Errorf("Err() before settle = %v, want nil", err)
	}
	close(release)
	if err := item.Wait(ctx); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}
