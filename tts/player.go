package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// BeepPlayer renders mp3 clips through the system speaker. The speaker is
// initialized once at the sample rate of the first clip; later clips are
// resampled to match.
type BeepPlayer struct {
	initOnce sync.Once
	initErr  error
	rate     beep.SampleRate
}

// NewBeepPlayer returns an uninitialized player; the audio device is opened
// on first Play.
func NewBeepPlayer() *BeepPlayer {
	return &BeepPlayer{}
}

// Play decodes and plays one mp3 clip, blocking until the clip finishes or
// the context is canceled. Cancellation clears the speaker immediately.
func (p *BeepPlayer) Play(ctx context.Context, mp3Data []byte) error {
	if len(mp3Data) == 0 {
		return ErrNoAudio
	}

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(mp3Data)))
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()

	p.initOnce.Do(func() {
		p.rate = format.SampleRate
		p.initErr = speaker.Init(p.rate, p.rate.N(time.Second/10))
	})
	if p.initErr != nil {
		return fmt.Errorf("open speaker: %w", p.initErr)
	}

	var stream beep.Streamer = streamer
	if format.SampleRate != p.rate {
		stream = beep.Resample(4, format.SampleRate, p.rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(stream, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
