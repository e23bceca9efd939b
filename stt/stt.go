// Package stt turns finished audio clips into text.
package stt

import (
	"context"
	"errors"
)

// ErrNoTranscript is returned when the recognizer produced no usable text
// for a clip. Callers route this to the text fallback, not to a retry.
var ErrNoTranscript = errors.New("no transcript produced")

// Provider is a speech-to-text backend. The clip is a complete WAV file.
type Provider interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
