package stt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// WhisperConfig tunes the hosted Whisper transcription endpoint.
type WhisperConfig struct {
	APIKey      string
	Model       string  // default whisper-1
	Language    string  // default en
	Temperature float64 // default 0.2
}

// Whisper transcribes clips through the OpenAI audio API.
type Whisper struct {
	client openai.Client
	cfg    WhisperConfig
}

// NewWhisper creates a Whisper provider. The API key must be set.
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("whisper: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &Whisper{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}, nil
}

// Transcribe uploads the WAV clip and returns the transcript text.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", ErrNoTranscript
	}

	start := time.Now()
	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:        openai.File(bytes.NewReader(wav), "clip.wav", "audio/wav"),
		Model:       openai.AudioModel(w.cfg.Model),
		Language:    openai.String(w.cfg.Language),
		Temperature: openai.Float(w.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoTranscript
	}
	slog.Debug("clip transcribed",
		"bytes", len(wav),
		"chars", len(text),
		"took", time.Since(start),
	)
	return text, nil
}
