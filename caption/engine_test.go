package caption

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// captionServer is a scripted recognizer endpoint.
type captionServer struct {
	*httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	binary [][]byte
	dials  int
}

func newCaptionServer(t *testing.T) *captionServer {
	t.Helper()
	s := &captionServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.dials++
		s.mu.Unlock()

		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				s.mu.Lock()
				s.binary = append(s.binary, payload)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *captionServer) send(t *testing.T, text string, final bool) {
	t.Helper()
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()

	msg := map[string]any{
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text}},
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("server send: %v", err)
	}
}

func (s *captionServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func newTestEngine(t *testing.T, srv *captionServer) *Engine {
	t.Helper()
	e := NewEngine(Config{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		SampleRate:      44100,
		RestartInterval: 20 * time.Millisecond,
	})
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngine_NoAPIKeyIsUnsupported(t *testing.T) {
	e := NewEngine(Config{})
	if err := e.Start(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Start without key = %v, want ErrUnsupported", err)
	}
}

func TestEngine_UnreachableHostIsUnsupported(t *testing.T) {
	e := NewEngine(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if err := e.Start(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Start against closed port = %v, want ErrUnsupported", err)
	}
}

func TestEngine_InterimAndFinalAccumulation(t *testing.T) {
	srv := newCaptionServer(t)
	e := newTestEngine(t, srv)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv.send(t, "i walked to", false)
	waitFor(t, "interim caption", func() bool { return e.Text() == "i walked to" })
	if e.Final() != "" {
		t.Errorf("interim text leaked into Final(): %q", e.Final())
	}

	srv.send(t, "i walked to the park", true)
	waitFor(t, "final caption", func() bool { return e.Final() == "i walked to the park" })

	srv.send(t, "and sat", false)
	waitFor(t, "second interim", func() bool {
		return e.Text() == "i walked to the park and sat"
	})
	if e.Final() != "i walked to the park" {
		t.Errorf("Final() = %q, want confirmed text only", e.Final())
	}

	// Events carry the same interim/final distinction.
	drained := 0
	for done := false; !done; {
		select {
		case ev := <-e.Events():
			drained++
			if ev.Text == "i walked to the park" && !ev.Final {
				t.Error("final segment delivered as interim event")
			}
		default:
			done = true
		}
	}
	if drained != 3 {
		t.Errorf("drained %d events, want 3", drained)
	}
}

func TestEngine_FeedEncodesPCM(t *testing.T) {
	srv := newCaptionServer(t)
	e := newTestEngine(t, srv)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e.Feed([]float32{0.5, -0.5})
	waitFor(t, "audio chunk", func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.binary) == 1
	})

	srv.mu.Lock()
	chunk := srv.binary[0]
	srv.mu.Unlock()
	if len(chunk) != 4 {
		t.Fatalf("chunk length = %d, want 4 bytes for 2 samples", len(chunk))
	}
	wantSample := func(s float32) int16 { return int16(s * 32767) }
	if got := int16(binary.LittleEndian.Uint16(chunk[0:2])); got != wantSample(0.5) {
		t.Errorf("sample 0 = %d, want %d", got, wantSample(0.5))
	}
	if got := int16(binary.LittleEndian.Uint16(chunk[2:4])); got != wantSample(-0.5) {
		t.Errorf("sample 1 = %d, want %d", got, wantSample(-0.5))
	}
}

func TestEngine_RestartsAfterSocketLoss(t *testing.T) {
	srv := newCaptionServer(t)
	e := newTestEngine(t, srv)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first dial", func() bool { return srv.dialCount() == 1 })

	srv.send(t, "before the drop", true)
	waitFor(t, "caption before drop", func() bool { return e.Final() == "before the drop" })

	// Server kills the socket mid-window.
	srv.mu.Lock()
	srv.conns[0].Close()
	srv.mu.Unlock()

	waitFor(t, "reconnect", func() bool { return srv.dialCount() == 2 })

	// Transcript from before the drop survives the restart.
	if e.Final() != "before the drop" {
		t.Errorf("Final() = %q after restart, want %q", e.Final(), "before the drop")
	}
	srv.send(t, "after the drop", true)
	waitFor(t, "caption after restart", func() bool {
		return e.Final() == "before the drop after the drop"
	})
}

func TestEngine_StopIsDeterministic(t *testing.T) {
	srv := newCaptionServer(t)
	e := newTestEngine(t, srv)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "dial", func() bool { return srv.dialCount() == 1 })

	e.Stop()
	e.Stop() // idempotent

	// No reconnect happens after Stop even once the restart interval passes.
	time.Sleep(60 * time.Millisecond)
	if srv.dialCount() != 1 {
		t.Fatalf("engine redialed after Stop: %d dials", srv.dialCount())
	}

	// Feeding a stopped engine is a harmless no-op.
	e.Feed([]float32{0.1})
}

func TestEngine_ResetClearsTranscript(t *testing.T) {
	srv := newCaptionServer(t)
	e := newTestEngine(t, srv)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.send(t, "old utterance", true)
	waitFor(t, "caption", func() bool { return e.Final() == "old utterance" })

	e.Reset()
	if e.Final() != "" || e.Text() != "" {
		t.Fatalf("Reset left transcript behind: final=%q text=%q", e.Final(), e.Text())
	}
}
