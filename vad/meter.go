package vad

import "math"

// Silence is the level reported for an all-zero frame.
var Silence = math.Inf(-1)

// Meter converts raw PCM frames into a smoothed loudness estimate.
//
// Each call quantizes per-sample magnitude to the 0-255 byte scale, takes
// the arithmetic mean, applies exponential smoothing, and converts the
// result to decibels relative to full scale via 20*log10(mean/255).
// A mean of zero maps to Silence (-Inf).
type Meter struct {
	smoothing float64
	value     float64
	primed    bool
}

// NewMeter creates a meter with the given smoothing constant in [0, 1).
// 0.8 matches the detector's default tuning.
func NewMeter(smoothing float64) *Meter {
	if smoothing < 0 || smoothing >= 1 {
		smoothing = 0.8
	}
	return &Meter{smoothing: smoothing}
}

// Level feeds one frame of samples in [-1, 1] and returns the smoothed
// loudness in dB.
func (m *Meter) Level(frame []float32) float64 {
	if len(frame) == 0 {
		return m.toDB()
	}

	var sum float64
	for _, s := range frame {
		mag := float64(s)
		if mag < 0 {
			mag = -mag
		}
		if mag > 1 {
			mag = 1
		}
		sum += math.Round(mag * 255)
	}
	mean := sum / float64(len(frame))

	if !m.primed {
		m.value = mean
		m.primed = true
	} else {
		m.value = m.smoothing*m.value + (1-m.smoothing)*mean
	}
	return m.toDB()
}

// Reset clears the smoothing history, e.g. when a new stream is attached.
func (m *Meter) Reset() {
	m.value = 0
	m.primed = false
}

func (m *Meter) toDB() float64 {
	if m.value <= 0 {
		return Silence
	}
	return 20 * math.Log10(m.value/255)
}
