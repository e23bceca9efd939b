// Package capture owns the microphone: it manages the input stream through a
// device seam, buffers recorded frames, and finalizes each take into a WAV
// clip handed to the transcriber.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRecording is returned when a recording is started while one is
// still active.
var ErrAlreadyRecording = errors.New("already recording")

// ErrNotRecording is returned when stopping without an active recording.
var ErrNotRecording = errors.New("not recording")

// ErrPermissionDenied means the microphone exists but access was refused.
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrDeviceUnavailable means no usable input device could be opened.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrEmptyClip is returned when a stop produced no audio at all.
var ErrEmptyClip = errors.New("empty audio clip")

// Device opens microphone streams. Implementations deliver mono float32
// frames in [-1, 1] to fn from their own goroutine until the stream closes.
type Device interface {
	Open(cfg StreamConfig, fn func(samples []float32)) (Stream, error)
}

// Stream is one open microphone stream.
type Stream interface {
	Close() error
}

// Transcriber turns a finished WAV clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// StreamConfig is the format requested from the device.
type StreamConfig struct {
	SampleRate int
	FrameSize  int
	// EchoCancel and NoiseSuppress are hints; backends that cannot honor
	// them open the stream anyway.
	EchoCancel    bool
	NoiseSuppress bool
}

// Config tunes the controller.
type Config struct {
	SampleRate int  // default 44100
	FrameSize  int  // samples per frame, default 512
	HoldOpen   bool // keep the stream open between takes (voice-detect mode)
}

// DefaultConfig returns the standard mono capture format.
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		FrameSize:  512,
	}
}

// Controller manages the recording session lifecycle. It also acts as the
// frame source for voice monitoring: OnFrame subscribers receive every frame
// the open stream delivers, recording or not.
type Controller struct {
	cfg   Config
	dev   Device
	trans Transcriber

	mu         sync.Mutex
	stream     Stream
	generation uint64
	recording  bool
	startedAt  time.Time
	chunks     []float32
	closed     bool

	subMu  sync.Mutex
	subs   map[int]func(samples []float32)
	nextID int
}

// NewController creates a controller on the given device. The transcriber
// receives exactly one call per successful StopRecording.
func NewController(cfg Config, dev Device, trans Transcriber) *Controller {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = 512
	}
	return &Controller{
		cfg:   cfg,
		dev:   dev,
		trans: trans,
		subs:  make(map[int]func(samples []float32)),
	}
}

// Listen opens the microphone stream without recording, so that frame
// subscribers (the voice monitor) receive audio. No-op if already open.
func (c *Controller) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDeviceUnavailable
	}
	if c.stream != nil {
		return nil
	}
	return c.openStreamLocked()
}

// StartRecording begins buffering frames into the current take. The stream
// is opened on demand if Listen was not called first.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDeviceUnavailable
	}
	if c.recording {
		return ErrAlreadyRecording
	}
	if c.stream == nil {
		if err := c.openStreamLocked(); err != nil {
			return err
		}
	}

	c.chunks = c.chunks[:0]
	c.recording = true
	c.startedAt = time.Now()
	slog.Debug("recording started", "sample_rate", c.cfg.SampleRate)
	return nil
}

// StopRecording finalizes the take into a WAV clip, transcribes it, and
// returns the transcript. The stream is released unless the controller is in
// hold-open mode. The transcriber is called exactly once per stop.
func (c *Controller) StopRecording(ctx context.Context) (string, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return "", ErrNotRecording
	}
	c.recording = false
	samples := c.chunks
	c.chunks = nil
	dur := time.Since(c.startedAt)

	var closeErr error
	if !c.cfg.HoldOpen {
		closeErr = c.releaseStreamLocked()
	}
	c.mu.Unlock()

	if closeErr != nil {
		slog.Warn("closing capture stream", "error", closeErr)
	}
	slog.Debug("recording stopped", "duration", dur, "samples", len(samples))

	if len(samples) == 0 {
		return "", ErrEmptyClip
	}

	clip := EncodeWAV(samples, c.cfg.SampleRate)
	text, err := c.trans.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("transcribe clip: %w", err)
	}
	return text, nil
}

// Recording reports whether a take is being buffered.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// OnFrame subscribes to live frames from the open stream. The cancel
// function removes the subscription and is safe to call more than once.
func (c *Controller) OnFrame(fn func(samples []float32)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Close releases the stream and refuses further use.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.recording = false
	c.chunks = nil
	return c.releaseStreamLocked()
}

// openStreamLocked acquires the device stream for the current generation.
// Frames from an older generation are dropped, which makes late device
// callbacks after release harmless.
func (c *Controller) openStreamLocked() error {
	c.generation++
	gen := c.generation

	stream, err := c.dev.Open(StreamConfig{
		SampleRate:    c.cfg.SampleRate,
		FrameSize:     c.cfg.FrameSize,
		EchoCancel:    true,
		NoiseSuppress: true,
	}, func(samples []float32) {
		c.handleFrame(gen, samples)
	})
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	c.stream = stream
	return nil
}

func (c *Controller) releaseStreamLocked() error {
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	c.generation++
	return err
}

func (c *Controller) handleFrame(gen uint64, samples []float32) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.recording {
		c.chunks = append(c.chunks, samples...)
	}
	c.mu.Unlock()

	c.subMu.Lock()
	fns := make([]func([]float32), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(samples)
	}
}
