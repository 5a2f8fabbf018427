package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skaldbot/skald/internal/acp"
	"github.com/skaldbot/skald/internal/bridge"
	"github.com/skaldbot/skald/internal/events"
	"github.com/skaldbot/skald/internal/msgqueue"
)

type fakeRuntime struct {
	status    acp.Status
	cancelErr error
	ensureErr error

	mu      sync.Mutex
	cancels int
}

func (r *fakeRuntime) Status() acp.Status { return r.status }

func (r *fakeRuntime) EnsureSession(ctx context.Context) error { return r.ensureErr }

func (r *fakeRuntime) Cancel(ctx context.Context) error {
	r.mu.Lock()
	r.cancels++
	r.mu.Unlock()
	return r.cancelErr
}

// fakeBridge answers chat messages synchronously through the real
// queue item type so Wait semantics match production.
type fakeBridge struct {
	reply    string
	err      error
	depth    int
	mu       sync.Mutex
	contexts []string
}

func (b *fakeBridge) HandleMessage(ctx context.Context, chat bridge.ChatContext) *msgqueue.Item {
	q := msgqueue.New(msgqueue.Config{
		Process: func(ctx context.Context, item *msgqueue.Item) error {
			if b.err != nil {
				return b.err
			}
			return chat.SendText(ctx, b.reply)
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return q.Enqueue(ctx, chat)
}

func (b *fakeBridge) QueueContext(source, text string) error {
	b.mu.Lock()
	b.contexts = append(b.contexts, source+": "+text)
	b.mu.Unlock()
	return nil
}

func (b *fakeBridge) QueueDepth() int { return b.depth }

func newTestServer(t *testing.T, rt *fakeRuntime, br *fakeBridge, bus *events.Bus) *httptest.Server {
	t.Helper()
	s := NewServer("127.0.0.1", 0, rt, br, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeRuntime{}, &fakeBridge{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want healthy", body["status"])
	}
}

func TestStatus(t *testing.T) {
	rt := &fakeRuntime{status: acp.Status{
		State:            "ready",
		SessionID:        "sess-9",
		PromptsCompleted: 4,
	}}
	ts := newTestServer(t, rt, &fakeBridge{depth: 2}, nil)

	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	defer resp.Body.Close()

	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session.State != "ready" || body.Session.SessionID != "sess-9" {
		t.Errorf("session = %+v, want runtime status passed through", body.Session)
	}
	if body.QueueDepth != 2 {
		t.Errorf("queue_depth = %d, want 2", body.QueueDepth)
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, &fakeRuntime{}, &fakeBridge{reply: "**bold** answer"}, nil)

	resp, err := http.Post(ts.URL+"/v1/chat", "application/json",
		bytes.NewBufferString(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0] != "**bold** answer" {
		t.Errorf("messages = %q, want the bridge reply", body.Messages)
	}
}

func TestChat_HTMLFormat(t *testing.T) {
	ts := newTestServer(t, &fakeRuntime{}, &fakeBridge{reply: "**bold** answer"}, nil)

	resp, err := http.Post(ts.URL+"/v1/chat?format=html", "application/json",
		bytes.NewBufferString(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()

	var body ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.HTML) != 1 || !strings.Contains(body.HTML[0], "<strong>bold</strong>") {
		t.Errorf("html = %q, want rendered markdown", body.HTML)
	}
}

func TestChat_EmptyText(t *testing.T) {
	ts := newTestServer(t, &fakeRuntime{}, &fakeBridge{}, nil)

	resp, err := http.Post(ts.URL+"/v1/chat", "application/json",
		bytes.NewBufferString(`{"text":"  "}`))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChat_Failure(t *testing.T) {
	br := &fakeBridge{err: errors.New("agent handshake failed")}
	ts := newTestServer(t, &fakeRuntime{}, br, nil)

	resp, err := http.Post(ts.URL+"/v1/chat", "application/json",
		bytes.NewBufferString(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestContext(t *testing.T) {
	br := &fakeBridge{}
	ts := newTestServer(t, &fakeRuntime{}, br, nil)

	resp, err := http.Post(ts.URL+"/v1/context", "application/json",
		bytes.NewBufferString(`{"source":"cron","text":"backup finished"}`))
	if err != nil {
		t.Fatalf("POST /v1/context: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	br.mu.Lock()
	got := append([]string(nil), br.contexts...)
	br.mu.Unlock()
	if len(got) != 1 || got[0] != "cron: backup finished" {
		t.Errorf("contexts = %q, want the queued note", got)
	}
}

func TestCancel_NoPrompt(t *testing.T) {
	rt := &fakeRuntime{cancelErr: errors.New("no prompt in flight")}
	ts := newTestServer(t, rt, &fakeBridge{}, nil)

	resp, err := http.Post(ts.URL+"/v1/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/cancel: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestEvents_Stream(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &fakeRuntime{}, &fakeBridge{}, bus)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// Give the handler time to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && bus.SubscriberCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindSessionReady,
		Data:      map[string]any{"session_id": "sess-1"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt events.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Kind != events.KindSessionReady {
		t.Errorf("event kind = %q, want %q", evt.Kind, events.KindSessionReady)
	}
}
