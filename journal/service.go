// Package journal is the lifecycle orchestrator: it ties the voice monitor,
// the recorder, the caption engine, and the downstream language services
// into one conversational state machine.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reverievoice/reverie/internal/types"
	"github.com/reverievoice/reverie/langdetect"
	"github.com/reverievoice/reverie/vad"
)

// WelcomePrompt opens every conversation.
const WelcomePrompt = "Think back to yesterday... Can you tell me about one specific moment that stands out to you?"

// ApologyReply is spoken when the completion or speech services fail. The
// conversation always continues; there are no automatic retries.
const ApologyReply = "I'm sorry, I'm having trouble processing that right now."

// EventKind identifies an orchestrator event delivered to the UI layer.
type EventKind int

const (
	// EventPhase reports a phase transition.
	EventPhase EventKind = iota
	// EventPrompt carries companion text: the welcome line, replies, apologies.
	EventPrompt
	// EventUserText carries the user's transcribed or typed utterance.
	EventUserText
	// EventCaption carries the live caption display text.
	EventCaption
)

// Event is one orchestrator notification.
type Event struct {
	Kind  EventKind
	Phase types.Phase
	Text  string
}

// Recorder is the recording session controller.
type Recorder interface {
	Listen() error
	StartRecording() error
	StopRecording(ctx context.Context) (string, error)
	Recording() bool
	OnFrame(fn func(samples []float32)) (cancel func())
	Close() error
}

// Captions is the live caption engine. Strictly cosmetic except for one
// explicit coupling: the length of the confirmed transcript loosens the
// silence threshold for auto-stop.
type Captions interface {
	Start(ctx context.Context) error
	Stop()
	Reset()
	Final() string
	Text() string
	Events() <-chan types.CaptionEvent
}

// Completer produces the companion's reply for one utterance.
type Completer interface {
	Complete(ctx context.Context, userText string) (string, types.Usage, error)
}

// Synthesizer renders a reply as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player plays synthesized audio.
type Player interface {
	Play(ctx context.Context, mp3Data []byte) error
}

// Speaker is the on-device fallback voice.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Store persists sessions. Every store failure is logged and swallowed; a
// reply that fails to persist is still shown and spoken.
type Store interface {
	DeviceID() (string, error)
	CreateSession(deviceID string) (string, error)
	Append(sessionID string, ex types.Exchange) error
	End(sessionID string) error
}

// LanguageTagger tags entries with the language they were spoken in.
type LanguageTagger interface {
	Detect(text string) (langdetect.Result, error)
}

// Config wires the orchestrator's collaborators. Recorder and Completer are
// required; everything else degrades gracefully when nil.
type Config struct {
	Recorder  Recorder
	Captions  Captions
	Completer Completer
	Synth     Synthesizer
	Player    Player
	Speaker   Speaker
	Store     Store
	Language  LanguageTagger

	VAD vad.Config
	// ContinueMode returns to Listening after each reply instead of Idle.
	ContinueMode bool
}

// Service drives the conversation through Idle, Listening, Processing and
// TextFallback. Exactly one phase is active at a time.
type Service struct {
	cfg Config
	det *vad.Detector

	mu           sync.Mutex
	phase        types.Phase
	autoDetect   bool
	continueMode bool
	monitor      *vad.Monitor
	monStop      chan struct{}
	sessionID    string
	deviceID     string
	closed       bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewService creates the orchestrator in Idle.
func NewService(cfg Config) *Service {
	s := &Service{
		cfg:          cfg,
		det:          vad.NewDetector(cfg.VAD),
		phase:        types.PhaseIdle,
		continueMode: cfg.ContinueMode,
		events:       make(chan Event, 32),
		done:         make(chan struct{}),
	}
	if cfg.Captions != nil {
		s.wg.Add(1)
		go s.captionLoop()
	}
	return s
}

// Events returns the notification stream for the UI layer. Never closed.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Phase returns the current phase.
func (s *Service) Phase() types.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start emits the opening prompt.
func (s *Service) Start() {
	s.emit(Event{Kind: EventPrompt, Text: WelcomePrompt})
}

// SetContinueMode toggles follow-up listening after each reply.
func (s *Service) SetContinueMode(on bool) {
	s.mu.Lock()
	s.continueMode = on
	s.mu.Unlock()
}

// Toggle is the manual tap-to-talk control: Idle starts listening,
// Listening stops and processes. Taps in other phases are ignored.
func (s *Service) Toggle(ctx context.Context) error {
	switch s.Phase() {
	case types.PhaseIdle:
		return s.beginListening(ctx)
	case types.PhaseListening:
		s.finishListening(ctx)
		return nil
	default:
		return nil
	}
}

// SetAutoDetect switches voice-activated mode. Enabling opens a persistent
// microphone stream and starts the voice monitor; disabling tears the
// monitor down and, when a take is mid-flight, processes it.
func (s *Service) SetAutoDetect(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("service closed")
	}
	if enabled == s.autoDetect {
		s.mu.Unlock()
		return nil
	}

	if !enabled {
		s.autoDetect = false
		mon, stop := s.monitor, s.monStop
		s.monitor, s.monStop = nil, nil
		s.mu.Unlock()

		if mon != nil {
			mon.Close()
		}
		if stop != nil {
			close(stop)
		}
		// Processes a mid-flight take; a no-op in any other phase.
		s.finishListening(ctx)
		return nil
	}

	s.autoDetect = true
	s.mu.Unlock()

	if err := s.cfg.Recorder.Listen(); err != nil {
		s.mu.Lock()
		s.autoDetect = false
		s.mu.Unlock()
		s.fallbackToText(err)
		return err
	}

	mon := vad.NewMonitor(s.det, s.cfg.Recorder)
	stop := make(chan struct{})
	s.mu.Lock()
	s.monitor, s.monStop = mon, stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.monitorLoop(ctx, mon, stop)
	slog.Info("voice detection enabled")
	return nil
}

// SubmitText handles typed input from the text fallback, running one full
// completion + speech attempt and returning to Idle.
func (s *Service) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty submission")
	}

	s.setPhase(types.PhaseProcessing)
	s.runExchange(ctx, text)
	s.setPhase(types.PhaseIdle)
	return nil
}

// Close tears the service down: the monitor, the captions, the microphone,
// and the open session.
func (s *Service) Close() error {
	var mon *vad.Monitor
	var monStop chan struct{}
	var sessionID string

	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		mon, monStop = s.monitor, s.monStop
		s.monitor, s.monStop = nil, nil
		sessionID = s.sessionID
		s.mu.Unlock()
		close(s.done)
	})

	if mon != nil {
		mon.Close()
	}
	if monStop != nil {
		close(monStop)
	}
	if s.cfg.Captions != nil {
		s.cfg.Captions.Stop()
	}
	err := s.cfg.Recorder.Close()

	if s.cfg.Store != nil && sessionID != "" {
		if endErr := s.cfg.Store.End(sessionID); endErr != nil {
			slog.Warn("ending session", "error", endErr)
		}
	}
	s.wg.Wait()
	return err
}

func (s *Service) beginListening(ctx context.Context) error {
	if err := s.cfg.Recorder.StartRecording(); err != nil {
		// The detector may have armed itself for this take; clear it so the
		// failure cannot suppress later start decisions.
		s.det.CaptureStopped()
		s.fallbackToText(err)
		return err
	}

	// No-op when the voice monitor already confirmed the start; counts the
	// epoch for manual takes.
	s.det.CaptureStarted(time.Now())
	s.det.SetConfirmedChars(0)

	if s.cfg.Captions != nil {
		s.cfg.Captions.Reset()
		if err := s.cfg.Captions.Start(ctx); err != nil {
			slog.Debug("captions unavailable", "error", err)
		}
	}

	s.setPhase(types.PhaseListening)
	return nil
}

// finishListening claims the active take and processes it. The claim is a
// compare-and-swap on the phase: when a manual tap races a voice-stop
// decision (or an auto-detect teardown), exactly one caller proceeds and
// the loser returns false without touching the recorder.
func (s *Service) finishListening(ctx context.Context) bool {
	if !s.casPhase(types.PhaseListening, types.PhaseProcessing) {
		return false
	}
	if s.cfg.Captions != nil {
		s.cfg.Captions.Stop()
	}

	transcript, err := s.cfg.Recorder.StopRecording(ctx)
	s.det.CaptureStopped()
	if err != nil {
		slog.Warn("transcription failed; switching to text entry", "error", err)
		s.setPhase(types.PhaseTextFallback)
		return true
	}

	s.runExchange(ctx, transcript)

	s.mu.Lock()
	cont := s.continueMode
	s.mu.Unlock()
	if cont {
		_ = s.beginListening(ctx)
		return true
	}
	s.setPhase(types.PhaseIdle)
	return true
}

// runExchange performs one user-turn: complete, speak, persist. Completion
// and speech each get exactly one attempt.
func (s *Service) runExchange(ctx context.Context, userText string) {
	s.emit(Event{Kind: EventUserText, Text: userText})

	reply, usage, err := s.cfg.Completer.Complete(ctx, userText)
	if err != nil {
		slog.Warn("completion failed", "error", err)
		reply = ApologyReply
	} else {
		slog.Debug("reply completed", "tokens", usage.TotalTokens)
	}

	s.emit(Event{Kind: EventPrompt, Text: reply})
	s.speak(ctx, reply)
	s.persist(userText, reply)
}

// speak tries the hosted voice once, then the on-device voice. A reply that
// cannot be spoken at all stays text-only.
func (s *Service) speak(ctx context.Context, text string) {
	if s.cfg.Synth != nil && s.cfg.Player != nil {
		audio, err := s.cfg.Synth.Synthesize(ctx, text)
		if err == nil {
			if err = s.cfg.Player.Play(ctx, audio); err == nil {
				return
			}
		}
		slog.Warn("hosted speech failed", "error", err)
	}
	if s.cfg.Speaker != nil {
		if err := s.cfg.Speaker.Say(ctx, text); err != nil {
			slog.Warn("local speech failed; reply stays on screen", "error", err)
		}
	}
}

// persist appends the exchange, creating the session lazily on the first
// one. Failures never interrupt the conversation.
func (s *Service) persist(userText, reply string) {
	if s.cfg.Store == nil {
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID == "" {
		deviceID, err := s.cfg.Store.DeviceID()
		if err != nil {
			slog.Warn("loading device id", "error", err)
			return
		}
		sessionID, err = s.cfg.Store.CreateSession(deviceID)
		if err != nil {
			slog.Warn("creating session", "error", err)
			return
		}
		s.mu.Lock()
		s.sessionID, s.deviceID = sessionID, deviceID
		s.mu.Unlock()
	}

	ex := types.Exchange{
		Timestamp: time.Now().UTC(),
		UserText:  userText,
		ReplyText: reply,
	}
	if s.cfg.Language != nil {
		if res, err := s.cfg.Language.Detect(userText); err == nil {
			ex.Language = res.Code
		}
	}
	if err := s.cfg.Store.Append(sessionID, ex); err != nil {
		slog.Warn("persisting exchange", "error", err)
	}
}

// fallbackToText routes any unrecoverable audio error to typed entry.
// Repeated failures always land here; nothing retries automatically.
func (s *Service) fallbackToText(err error) {
	slog.Warn("voice unavailable; falling back to text entry", "error", err)

	s.mu.Lock()
	s.autoDetect = false
	mon, stop := s.monitor, s.monStop
	s.monitor, s.monStop = nil, nil
	s.mu.Unlock()

	if mon != nil {
		mon.Close()
	}
	if stop != nil {
		close(stop)
	}
	s.setPhase(types.PhaseTextFallback)
}

func (s *Service) monitorLoop(ctx context.Context, mon *vad.Monitor, stop chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-stop:
			return
		case ev := <-mon.Events():
			switch ev.Kind {
			case vad.EventVoiceStart:
				if s.Phase() == types.PhaseIdle {
					_ = s.beginListening(ctx)
				} else {
					s.resyncDetector()
				}
			case vad.EventVoiceStop:
				if !s.finishListening(ctx) {
					s.resyncDetector()
				}
			}
		}
	}
}

// captionLoop forwards caption updates for display and feeds the confirmed
// transcript length to the voice detector. Interim text never feeds the
// detector.
func (s *Service) captionLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.cfg.Captions.Events():
			if ev.Final {
				s.det.SetConfirmedChars(len(s.cfg.Captions.Final()))
			}
			s.emit(Event{Kind: EventCaption, Text: s.cfg.Captions.Text()})
		}
	}
}

// resyncDetector clears the detector's capture flag after a decision the
// orchestrator declined to act on. The detector marks itself capturing the
// moment it confirms speech; without this, one decision arriving in the
// wrong phase (say, speech during a typed submission) would leave it armed
// forever and no further take would ever start.
func (s *Service) resyncDetector() {
	if !s.cfg.Recorder.Recording() {
		s.det.CaptureStopped()
	}
}

// casPhase transitions from one specific phase to another, reporting whether
// this caller won the transition.
func (s *Service) casPhase(from, to types.Phase) bool {
	s.mu.Lock()
	if s.phase != from {
		s.mu.Unlock()
		return false
	}
	s.phase = to
	s.mu.Unlock()

	slog.Debug("phase changed", "phase", to)
	s.emit(Event{Kind: EventPhase, Phase: to})
	return true
}

func (s *Service) setPhase(p types.Phase) {
	s.mu.Lock()
	if s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()

	slog.Debug("phase changed", "phase", p)
	s.emit(Event{Kind: EventPhase, Phase: p})
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
	}
}
