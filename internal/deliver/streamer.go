package deliver

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// StreamerConfig holds dependencies for a Streamer.
type StreamerConfig struct {
	// Interval is the debounce quiet period. A flush fires only after
	// this long with no new fragments.
	Interval time.Duration
	// MaxLen caps the transmitted text; the buffer is truncated to
	// this length before the delta is computed. Zero means no cap.
	MaxLen int
	// Send transmits newly accumulated text. It receives only the
	// delta beyond what has already been transmitted.
	Send func(delta string) error
	// Logger for send failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Streamer coalesces an append-only fragment stream into debounced
// transmissions. Each flush transmits the delta between the (possibly
// truncated) buffer and what has already gone out, so rapid fragment
// bursts produce one send rather than many.
type Streamer struct {
	interval time.Duration
	maxLen   int
	send     func(string) error
	logger   *slog.Logger

	mu          sync.Mutex
	buf         strings.Builder
	transmitted string
	timer       *time.Timer
	finalized   bool
}

// NewStreamer creates a streamer ready to receive fragments.
func NewStreamer(cfg StreamerConfig) *Streamer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		interval: cfg.Interval,
		maxLen:   cfg.MaxLen,
		send:     cfg.Send,
		logger:   logger,
	}
}

// Append adds a fragment to the buffer and (re)arms the debounce
// timer. Fragments arriving after Finalize are dropped.
func (s *Streamer) Append(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized || fragment == "" {
		return
	}
	s.buf.WriteString(fragment)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.interval, s.timedFlush)
}

func (s *Streamer) timedFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.flushLocked()
}

// flushLocked transmits any pending delta. Caller holds s.mu.
func (s *Streamer) flushLocked() {
	cur := s.buf.String()
	if s.maxLen > 0 && len(cur) > s.maxLen {
		cur = Truncate(cur, s.maxLen)
	}
	if cur == s.transmitted {
		return
	}
	if !strings.HasPrefix(cur, s.transmitted) {
		// Truncation rewrote the tail; the capped text no longer
		// extends what went out, so there is nothing safe to append.
		return
	}
	delta := cur[len(s.transmitted):]
	if delta == "" {
		return
	}
	if err := s.send(delta); err != nil {
		s.logger.Warn("stream send failed", "error", err, "delta_len", len(delta))
		return
	}
	s.transmitted = cur
}

// Finalize cancels any pending debounce, performs one last flush, and
// marks the streamer finished. Idempotent: subsequent calls are no-ops.
func (s *Streamer) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.flushLocked()
	s.finalized = true
}

// Text returns the full accumulated buffer.
func (s *Streamer) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// TransmittedLen returns how many bytes have been sent so far.
func (s *Streamer) TransmittedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transmitted)
}
