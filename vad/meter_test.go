package vad

import (
	"math"
	"testing"
)

func constFrame(amplitude float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude
	}
	return out
}

func TestMeter_SilenceIsNegativeInfinity(t *testing.T) {
	m := NewMeter(0.8)
	if got := m.Level(constFrame(0, 512)); !math.IsInf(got, -1) {
		t.Errorf("Level(silence) = %v, want -Inf", got)
	}
}

func TestMeter_FullScaleIsZeroDB(t *testing.T) {
	m := NewMeter(0.8)
	if got := m.Level(constFrame(1.0, 512)); math.Abs(got) > 0.01 {
		t.Errorf("Level(full scale) = %v, want ~0 dB", got)
	}
}

func TestMeter_KnownLevels(t *testing.T) {
	tests := []struct {
		name      string
		amplitude float32
		wantDB    float64
	}{
		// 20*log10(round(a*255)/255)
		{"loud speech", 0.1, 20 * math.Log10(26.0/255)},
		{"quiet speech", 0.02, 20 * math.Log10(5.0/255)},
		{"near silence", 0.004, 20 * math.Log10(1.0/255)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMeter(0.8)
			got := m.Level(constFrame(tt.amplitude, 512))
			if math.Abs(got-tt.wantDB) > 0.01 {
				t.Errorf("Level() = %v, want %v", got, tt.wantDB)
			}
		})
	}
}

func TestMeter_SmoothingDecay(t *testing.T) {
	m := NewMeter(0.8)

	loud := m.Level(constFrame(0.5, 512))

	// One silent frame: the smoothed value decays by the smoothing factor,
	// i.e. drops by 20*log10(0.8) ≈ 1.94 dB, not to -Inf.
	decayed := m.Level(constFrame(0, 512))
	if math.IsInf(decayed, -1) {
		t.Fatal("smoothed level dropped straight to -Inf")
	}
	wantDrop := -20 * math.Log10(0.8)
	if math.Abs((loud-decayed)-wantDrop) > 0.01 {
		t.Errorf("decay = %v dB, want %v dB", loud-decayed, wantDrop)
	}
}

func TestMeter_ResetClearsHistory(t *testing.T) {
	m := NewMeter(0.8)
	m.Level(constFrame(0.5, 512))
	m.Reset()

	if got := m.Level(constFrame(0, 512)); !math.IsInf(got, -1) {
		t.Errorf("Level after Reset = %v, want -Inf", got)
	}
}
