package tts

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// LocalSpeaker speaks through the operating system's own voice: `say` on
// macOS, `espeak` elsewhere. Used when hosted synthesis is unavailable so a
// reply is still spoken aloud.
type LocalSpeaker struct {
	command string
}

// NewLocalSpeaker picks the platform voice command.
func NewLocalSpeaker() *LocalSpeaker {
	cmd := "espeak"
	if runtime.GOOS == "darwin" {
		cmd = "say"
	}
	return &LocalSpeaker{command: cmd}
}

// Say speaks the text, blocking until done or the context is canceled.
func (s *LocalSpeaker) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.command, text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", s.command, err)
	}
	return nil
}
