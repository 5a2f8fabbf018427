package deliver

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// captureSink records every delta a Streamer transmits.
type captureSink struct {
	mu     sync.Mutex
	deltas []string
}

func (c *captureSink) send(delta string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas = append(c.deltas, delta)
	return nil
}

func (c *captureSink) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.deltas, "")
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deltas)
}

func TestStreamer_DebouncesBurst(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: 20 * time.Millisecond,
		Send:     sink.send,
	})

	// A rapid burst should coalesce into a single transmission.
	s.Append("Hello")
	s.Append(", ")
	s.Append("world")

	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 1 {
		t.Errorf("transmissions = %d, want 1 (burst should coalesce)", got)
	}
	if got := sink.joined(); got != "Hello, world" {
		t.Errorf("transmitted = %q, want %q", got, "Hello, world")
	}
}

func TestStreamer_TransmitsOnlyDelta(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: 10 * time.Millisecond,
		Send:     sink.send,
	})

	s.Append("first")
	time.Sleep(60 * time.Millisecond)
	s.Append(" second")
	time.Sleep(60 * time.Millisecond)

	sink.mu.Lock()
	deltas := append([]string(nil), sink.deltas...)
	sink.mu.Unlock()

	want := []string{"first", " second"}
	if len(deltas) != len(want) {
		t.Fatalf("deltas = %q, want %q", deltas, want)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("delta %d = %q, want %q", i, deltas[i], want[i])
		}
	}
}

func TestStreamer_FinalizeFlushesPending(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: time.Hour, // Debounce never fires on its own.
		Send:     sink.send,
	})

	s.Append("pending text")
	s.Finalize()

	if got := sink.joined(); got != "pending text" {
		t.Errorf("transmitted = %q, want %q", got, "pending text")
	}
}

func TestStreamer_FinalizeIdempotent(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: time.Hour,
		Send:     sink.send,
	})

	s.Append("once")
	s.Finalize()
	s.Finalize()
	s.Finalize()

	if got := sink.count(); got != 1 {
		t.Errorf("transmissions = %d, want 1", got)
	}
}

func TestStreamer_AppendAfterFinalizeDropped(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: time.Hour,
		Send:     sink.send,
	})

	s.Append("kept")
	s.Finalize()
	s.Append("dropped")
	s.Finalize()

	if got := sink.joined(); got != "kept" {
		t.Errorf("transmitted = %q, want %q", got, "kept")
	}
	if got := s.Text(); got != "kept" {
		t.Errorf("buffer = %q, want %q", got, "kept")
	}
}

func TestStreamer_CapsAtMaxLen(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: time.Hour,
		MaxLen:   20,
		Send:     sink.send,
	})

	s.Append(strings.Repeat("a", 50))
	s.Finalize()

	if got := sink.joined(); len(got) > 20 {
		t.Errorf("transmitted %d bytes, want <= 20", len(got))
	}
}

func TestStreamer_EmptyFinalizeSendsNothing(t *testing.T) {
	sink := &captureSink{}
	s := NewStreamer(StreamerConfig{
		Interval: time.Hour,
		Send:     sink.send,
	})

	s.Finalize()

	if got := sink.count(); got != 0 {
		t.Errorf("transmissions = %d, want 0", got)
	}
}
