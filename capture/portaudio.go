package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice opens the default system microphone through portaudio.
type PortAudioDevice struct {
	initOnce sync.Once
	initErr  error
}

// NewPortAudioDevice returns a device backed by the portaudio default input.
// The library is initialized lazily on first Open.
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

// Open starts a callback stream on the default input device.
func (d *PortAudioDevice) Open(cfg StreamConfig, fn func(samples []float32)) (Stream, error) {
	d.initOnce.Do(func() {
		d.initErr = portaudio.Initialize()
	})
	if d.initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, d.initErr)
	}

	stream, err := portaudio.OpenDefaultStream(
		1, 0,
		float64(cfg.SampleRate),
		cfg.FrameSize,
		func(in []float32) {
			frame := make([]float32, len(in))
			copy(frame, in)
			fn(frame)
		},
	)
	if err != nil {
		return nil, mapDeviceErr(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, mapDeviceErr(err)
	}
	return &paStream{stream: stream}, nil
}

// Terminate shuts portaudio down. Call once at process exit.
func (d *PortAudioDevice) Terminate() error {
	if d.initErr != nil {
		return nil
	}
	return portaudio.Terminate()
}

type paStream struct {
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

func (s *paStream) Close() error {
	s.once.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			s.err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && s.err == nil {
			s.err = closeErr
		}
	})
	return s.err
}

// mapDeviceErr translates portaudio failures onto the package sentinels.
// Portaudio reports OS permission refusals as plain host errors, so the
// message text is the only signal available.
func mapDeviceErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
