// Package caption streams microphone audio to a websocket recognizer and
// accumulates the live transcript. Captions are best-effort: every failure
// path degrades to "no captions" without ever blocking recording.
package caption

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reverievoice/reverie/internal/types"
)

// ErrUnsupported means live captioning cannot run in this environment
// (missing API key or unreachable recognizer). Callers treat it as "captions
// off", not as a failure.
var ErrUnsupported = errors.New("live captions unavailable")

// Config controls the streaming recognizer connection.
type Config struct {
	APIKey     string
	BaseURL    string // https://... ; rewritten to wss:// for the socket
	Model      string
	Language   string
	SampleRate int
	// RestartInterval is the minimum gap between reconnect attempts after an
	// unexpected socket termination.
	RestartInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.deepgram.com/v1"
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.RestartInterval == 0 {
		c.RestartInterval = 2 * time.Second
	}
	return c
}

// Engine is the live caption engine. It runs only while the companion is
// listening; Start and Stop bracket one listening window.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	audio   chan []byte
	finals  []string
	interim string
	wg      sync.WaitGroup

	events chan types.CaptionEvent
}

// NewEngine creates an engine with the given recognizer settings.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		events: make(chan types.CaptionEvent, 64),
	}
}

// Events delivers interim and final caption updates. The channel is never
// closed; consumers select against their own shutdown signal.
func (e *Engine) Events() <-chan types.CaptionEvent {
	return e.events
}

// Start dials the recognizer and begins streaming. ErrUnsupported when the
// engine cannot run at all; the caller proceeds without captions.
func (e *Engine) Start(ctx context.Context) error {
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return ErrUnsupported
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stop = make(chan struct{})
	e.audio = make(chan []byte, 32)
	e.finals = nil
	e.interim = ""
	stop, audio := e.stop, e.audio
	e.mu.Unlock()

	conn, err := e.dial(ctx)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	e.wg.Add(1)
	go e.run(ctx, conn, stop, audio)
	return nil
}

// Stop silences the engine deterministically, even mid-restart. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
}

// Feed streams one frame of mono float32 audio. Frames are converted to
// 16-bit little-endian PCM; when the engine is stopped or the socket is
// backed up the frame is dropped.
func (e *Engine) Feed(samples []float32) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	audio, stop := e.audio, e.stop
	e.mu.Unlock()

	chunk := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(int16(s*32767)))
	}

	select {
	case audio <- chunk:
	case <-stop:
	default:
	}
}

// Final returns the confirmed transcript accumulated this listening window.
// Only final segments count; interim text never loosens downstream gates.
func (e *Engine) Final() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.finals, " ")
}

// Text returns the display transcript: confirmed segments plus the current
// interim tail.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	parts := append([]string(nil), e.finals...)
	if e.interim != "" {
		parts = append(parts, e.interim)
	}
	return strings.Join(parts, " ")
}

// Reset clears the accumulated transcript for a fresh utterance.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.finals = nil
	e.interim = ""
	e.mu.Unlock()
}

// run owns the socket lifecycle for one listening window, reconnecting after
// unexpected terminations with at least RestartInterval between dials.
func (e *Engine) run(ctx context.Context, conn *websocket.Conn, stop chan struct{}, audio chan []byte) {
	defer e.wg.Done()

	for {
		lastDial := time.Now()
		e.serve(conn, stop, audio)

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait := e.cfg.RestartInterval - time.Since(lastDial)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}

		var err error
		conn, err = e.dial(ctx)
		if err != nil {
			slog.Warn("caption stream restart failed; captions off for this window", "error", err)
			return
		}
		slog.Debug("caption stream restarted")
	}
}

// serve pumps one socket until it terminates.
func (e *Engine) serve(conn *websocket.Conn, stop chan struct{}, audio chan []byte) {
	defer conn.Close()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case chunk := <-audio:
				if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
					return
				}
			case <-stop:
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				conn.Close()
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				slog.Debug("caption socket terminated", "error", err)
			}
			<-writeDone
			return
		}
		e.handlePayload(payload)
	}
}

func (e *Engine) handlePayload(payload []byte) {
	var resp recognizerResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}
	text := resp.transcript()
	if text == "" {
		return
	}

	final := resp.IsFinal || resp.SpeechFinal
	e.mu.Lock()
	if final {
		e.finals = append(e.finals, text)
		e.interim = ""
	} else {
		e.interim = text
	}
	stop := e.stop
	e.mu.Unlock()

	ev := types.CaptionEvent{Text: text, Final: final}
	select {
	case e.events <- ev:
	case <-stop:
	default:
	}
}

func (e *Engine) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := e.listenURL()
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial recognizer: %w", err)
	}
	return conn, nil
}

func (e *Engine) listenURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(e.cfg.BaseURL), "/")
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid recognizer base URL: %w", err)
	}

	q := u.Query()
	q.Set("model", e.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", e.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	if e.cfg.Language != "" {
		q.Set("language", e.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type recognizerResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r recognizerResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}
