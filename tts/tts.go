// Package tts speaks the companion's replies: a hosted synthesizer produces
// mp3 audio and a player renders it, with an on-device voice as last resort.
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when synthesis produced an empty clip.
var ErrNoAudio = errors.New("no audio synthesized")

// Synthesizer renders text to mp3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player renders an mp3 clip to the speakers, blocking until playback ends
// or the context is canceled.
type Player interface {
	Play(ctx context.Context, mp3Data []byte) error
}

// Speaker is the on-device fallback voice, used when synthesis fails so the
// companion never goes silent mid-conversation.
type Speaker interface {
	Say(ctx context.Context, text string) error
}
