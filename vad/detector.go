// Package vad implements voice activity detection for the recording
// pipeline: a loudness meter, a frame classifier that turns loudness into
// start/stop decisions, and a monitor loop that executes them against a
// live frame source.
package vad

import (
	"sync"
	"time"
)

// Config holds the detector tuning. Zero values are replaced with defaults.
type Config struct {
	// StartThresholdDB is the loudness above which a frame counts as voice.
	StartThresholdDB float64
	// ConfidenceFrames is the number of consecutive voice frames required
	// before speech is considered started.
	ConfidenceFrames int
	// ShortPause is the silence allowed mid-utterance once enough live
	// transcript has been confirmed.
	ShortPause time.Duration
	// LongSilence always ends the utterance regardless of transcript.
	LongSilence time.Duration
	// MinSpeech blocks any stop decision until this much time has passed
	// since speech started.
	MinSpeech time.Duration
	// StopArmDelay is the grace period between a stop decision and its
	// execution; voice returning within it cancels the stop.
	StopArmDelay time.Duration
	// ShortPauseMinChars gates the short-pause path on the length of the
	// confirmed live transcript.
	ShortPauseMinChars int
	// Smoothing is the meter's exponential smoothing constant.
	Smoothing float64
}

// DefaultConfig returns the tuning used by the voice companion.
func DefaultConfig() Config {
	return Config{
		StartThresholdDB:   -35,
		ConfidenceFrames:   3,
		ShortPause:         800 * time.Millisecond,
		LongSilence:        2500 * time.Millisecond,
		MinSpeech:          500 * time.Millisecond,
		StopArmDelay:       100 * time.Millisecond,
		ShortPauseMinChars: 10,
		Smoothing:          0.8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StartThresholdDB == 0 {
		c.StartThresholdDB = d.StartThresholdDB
	}
	if c.ConfidenceFrames == 0 {
		c.ConfidenceFrames = d.ConfidenceFrames
	}
	if c.ShortPause == 0 {
		c.ShortPause = d.ShortPause
	}
	if c.LongSilence == 0 {
		c.LongSilence = d.LongSilence
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.StopArmDelay == 0 {
		c.StopArmDelay = d.StopArmDelay
	}
	if c.ShortPauseMinChars == 0 {
		c.ShortPauseMinChars = d.ShortPauseMinChars
	}
	if c.Smoothing == 0 {
		c.Smoothing = d.Smoothing
	}
	return c
}

// Decision is the classifier's verdict for one frame. The detector never
// touches the capture device itself; the caller executes decisions.
type Decision struct {
	// Start means speech was confirmed and capture should begin.
	Start bool
	// ScheduleStop means a stop should fire after StopAfter unless voice
	// returns first. At most one stop is pending at a time.
	ScheduleStop bool
	// CancelStop means a previously scheduled stop is void.
	CancelStop bool
	// StopAfter is the arming delay for a scheduled stop.
	StopAfter time.Duration
	// Epoch identifies the capture cycle a scheduled stop belongs to;
	// ConsumeStop rejects epochs that no longer match.
	Epoch uint64
	// VoiceActive reports whether this frame exceeded the start threshold.
	VoiceActive bool
}

// Detector classifies a loudness stream into voice/silence and emits
// start/stop decisions. Safe for concurrent use: Process runs on the frame
// loop while SetConfirmedChars arrives from the caption pathway.
type Detector struct {
	cfg Config

	mu          sync.Mutex
	confidence  int
	capturing   bool
	epoch       uint64
	speechStart time.Time
	lastVoice   time.Time
	stopPending bool
	confirmed   int
}

// NewDetector creates a detector with the given tuning.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Process classifies one smoothed loudness reading taken at the given
// instant. The clock is passed in so tests can drive synthetic timelines.
func (d *Detector) Process(levelDB float64, now time.Time) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	dec := Decision{}
	if levelDB > d.cfg.StartThresholdDB {
		dec.VoiceActive = true
		d.confidence++
		d.lastVoice = now

		if d.stopPending {
			d.stopPending = false
			dec.CancelStop = true
		}
		if d.confidence >= d.cfg.ConfidenceFrames && !d.capturing {
			d.capturing = true
			d.epoch++
			d.speechStart = now
			dec.Start = true
		}
		return dec
	}

	d.confidence = 0
	if !d.capturing || d.speechStart.IsZero() {
		return dec
	}

	speechDur := now.Sub(d.speechStart)
	silenceDur := now.Sub(d.lastVoice)

	shouldStop := speechDur > d.cfg.MinSpeech &&
		(silenceDur > d.cfg.LongSilence ||
			(d.confirmed > d.cfg.ShortPauseMinChars && silenceDur > d.cfg.ShortPause))

	if shouldStop && !d.stopPending {
		d.stopPending = true
		dec.ScheduleStop = true
		dec.StopAfter = d.cfg.StopArmDelay
		dec.Epoch = d.epoch
	}
	return dec
}

// ConsumeStop validates a scheduled stop at fire time. It returns true only
// if the stop is still pending, capture is still active, and the epoch
// matches the current cycle; a stale timer is a no-op.
func (d *Detector) ConsumeStop(epoch uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopPending || !d.capturing || epoch != d.epoch {
		return false
	}
	d.stopPending = false
	return true
}

// CaptureStarted informs the detector that capture began outside its own
// start decision (manual tap while the monitor is running).
func (d *Detector) CaptureStarted(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		return
	}
	d.capturing = true
	d.epoch++
	d.speechStart = now
	d.lastVoice = now
}

// CaptureStopped resets the per-utterance state once capture has ended,
// whether via a consumed stop, a manual tap, or an error.
func (d *Detector) CaptureStopped() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.capturing = false
	d.stopPending = false
	d.confidence = 0
	d.speechStart = time.Time{}
	d.confirmed = 0
}

// SetConfirmedChars updates the length of the confirmed live transcript.
// Only confirmed (final) caption text may loosen the stop threshold; when
// captioning is unavailable the count stays zero and the long-silence path
// alone applies.
func (d *Detector) SetConfirmedChars(n int) {
	d.mu.Lock()
	d.confirmed = n
	d.mu.Unlock()
}

// Capturing reports whether a capture cycle is active.
func (d *Detector) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

// Epoch returns the current capture cycle counter.
func (d *Detector) Epoch() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch
}

// Reset clears all state, including the epoch history.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.confidence = 0
	d.capturing = false
	d.epoch = 0
	d.speechStart = time.Time{}
	d.lastVoice = time.Time{}
	d.stopPending = false
	d.confirmed = 0
}
