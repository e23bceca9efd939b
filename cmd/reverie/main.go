// Command reverie is a voice-driven journaling companion: it listens for
// speech, transcribes it, asks an empathetic follow-up question, speaks the
// reply, and keeps a local history of the conversation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	"github.com/reverievoice/reverie/caption"
	"github.com/reverievoice/reverie/capture"
	"github.com/reverievoice/reverie/config"
	"github.com/reverievoice/reverie/history"
	"github.com/reverievoice/reverie/internal/types"
	"github.com/reverievoice/reverie/journal"
	"github.com/reverievoice/reverie/langdetect"
	"github.com/reverievoice/reverie/llm"
	"github.com/reverievoice/reverie/stt"
	"github.com/reverievoice/reverie/tts"
	"github.com/reverievoice/reverie/vad"
)

var logLevelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	manual := cli.BoolP("manual", "m", false, "Disable voice detection (tap-to-talk only)")
	continuous := cli.BoolP("continue", "c", false, "Keep listening after each reply")
	cli.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	godotenv.Load(*envFile)

	if err := run(*manual, *continuous); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(manual, continuous bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if manual {
		cfg.AutoDetect = false
	}
	if continuous {
		cfg.ContinueMode = true
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}

	whisper, err := stt.NewWhisper(stt.WhisperConfig{APIKey: openaiKey})
	if err != nil {
		return fmt.Errorf("init transcription: %w", err)
	}

	device := capture.NewPortAudioDevice()
	defer device.Terminate()

	recorder := capture.NewController(capture.Config{
		SampleRate: cfg.SampleRate,
		HoldOpen:   cfg.AutoDetect,
	}, device, whisper)
	defer recorder.Close()

	completer := llm.NewCompleter(
		cfg.ChatProvider,
		chatAPIKey(cfg.ChatProvider, openaiKey),
		"",
		cfg.ChatModel,
		llm.Options{},
	)

	var synth journal.Synthesizer
	var player journal.Player
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		el, err := tts.NewElevenLabs(tts.ElevenLabsConfig{APIKey: key, VoiceID: cfg.VoiceID})
		if err != nil {
			return fmt.Errorf("init speech: %w", err)
		}
		synth = el
		player = tts.NewBeepPlayer()
	} else {
		slog.Warn("ELEVENLABS_API_KEY not set; using the local voice")
	}

	var captions journal.Captions
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		captions = caption.NewEngine(caption.Config{
			APIKey:     key,
			SampleRate: cfg.SampleRate,
		})
	} else {
		slog.Debug("DEEPGRAM_API_KEY not set; live captions off")
	}

	historyDir, err := cfg.HistoryPath()
	if err != nil {
		return fmt.Errorf("history path: %w", err)
	}
	store, err := history.Open(historyDir)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	svc := journal.NewService(journal.Config{
		Recorder:     recorder,
		Captions:     captions,
		Completer:    completer,
		Synth:        synth,
		Player:       player,
		Speaker:      tts.NewLocalSpeaker(),
		Store:        store,
		Language:     langdetect.New(),
		VAD:          vadConfig(cfg.VAD),
		ContinueMode: cfg.ContinueMode,
	})
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Feed caption audio off the shared frame stream.
	if captions != nil {
		cancelFeed := recorder.OnFrame(captions.(*caption.Engine).Feed)
		defer cancelFeed()
	}

	go renderEvents(ctx, svc)

	svc.Start()
	if cfg.AutoDetect {
		if err := svc.SetAutoDetect(ctx, true); err != nil {
			slog.Warn("voice detection unavailable", "error", err)
		}
	}

	return interact(ctx, svc)
}

func chatAPIKey(provider, openaiKey string) string {
	if provider == "claude" {
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return openaiKey
}

func vadConfig(v config.VADConfig) vad.Config {
	return vad.Config{
		StartThresholdDB:   v.StartThresholdDB,
		ConfidenceFrames:   v.ConfidenceFrames,
		ShortPause:         time.Duration(v.ShortPauseMs) * time.Millisecond,
		LongSilence:        time.Duration(v.LongSilenceMs) * time.Millisecond,
		MinSpeech:          time.Duration(v.MinSpeechMs) * time.Millisecond,
		ShortPauseMinChars: v.ShortPauseMinChars,
	}
}

// interact reads the terminal: an empty line toggles recording, anything
// else is a typed journal entry, "quit" exits.
func interact(ctx context.Context, svc *journal.Service) error {
	fmt.Println("press Enter to talk, type to write, 'quit' to exit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "quit" || text == "exit":
				return nil
			case text == "":
				if err := svc.Toggle(ctx); err != nil {
					slog.Warn("toggle failed", "error", err)
				}
			default:
				if err := svc.SubmitText(ctx, text); err != nil {
					slog.Warn("submit failed", "error", err)
				}
			}
		}
	}
}

func renderEvents(ctx context.Context, svc *journal.Service) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-svc.Events():
			switch ev.Kind {
			case journal.EventPhase:
				renderPhase(ev.Phase)
			case journal.EventPrompt:
				fmt.Printf("\ncompanion: %s\n", ev.Text)
			case journal.EventUserText:
				fmt.Printf("\nyou: %s\n", ev.Text)
			case journal.EventCaption:
				fmt.Printf("\r… %s", ev.Text)
			}
		}
	}
}

func renderPhase(p types.Phase) {
	switch p {
	case types.PhaseListening:
		fmt.Println("\n[listening]")
	case types.PhaseProcessing:
		fmt.Println("[thinking…]")
	case types.PhaseTextFallback:
		fmt.Println("[voice unavailable — type your entry]")
	case types.PhaseIdle:
		fmt.Println("[ready]")
	}
}
