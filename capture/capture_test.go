package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
)

type fakeStream struct {
	closed int
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	streams []*fakeStream
	fn      func(samples []float32)
}

func (d *fakeDevice) Open(cfg StreamConfig, fn func(samples []float32)) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{}
	d.streams = append(d.streams, s)
	d.fn = fn
	return s, nil
}

// push delivers a frame through the most recent stream callback.
func (d *fakeDevice) push(samples []float32) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls [][]byte
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, wav)
	return f.text, f.err
}

func TestController_RecordAndTranscribe(t *testing.T) {
	dev := &fakeDevice{}
	tr := &fakeTranscriber{text: "hello there"}
	c := NewController(Config{SampleRate: 44100}, dev, tr)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !c.Recording() {
		t.Fatal("Recording() = false after start")
	}

	dev.push(make([]float32, 512))
	dev.push(make([]float32, 512))

	text, err := c.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if text != "hello there" {
		t.Errorf("transcript = %q, want %q", text, "hello there")
	}
	if len(tr.calls) != 1 {
		t.Fatalf("transcriber called %d times, want exactly 1", len(tr.calls))
	}

	clip := tr.calls[0]
	if string(clip[:4]) != "RIFF" || string(clip[8:12]) != "WAVE" {
		t.Fatal("clip is not a WAV file")
	}
	dataSize := binary.LittleEndian.Uint32(clip[40:44])
	if want := uint32(1024 * 2); dataSize != want {
		t.Errorf("WAV data size = %d, want %d", dataSize, want)
	}
}

func TestController_DoubleStart(t *testing.T) {
	c := NewController(Config{}, &fakeDevice{}, &fakeTranscriber{})

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := c.StartRecording(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second StartRecording = %v, want ErrAlreadyRecording", err)
	}
}

func TestController_StopWithoutStart(t *testing.T) {
	c := NewController(Config{}, &fakeDevice{}, &fakeTranscriber{})

	if _, err := c.StopRecording(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("StopRecording = %v, want ErrNotRecording", err)
	}
}

func TestController_EmptyClip(t *testing.T) {
	tr := &fakeTranscriber{}
	c := NewController(Config{}, &fakeDevice{}, tr)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := c.StopRecording(context.Background()); !errors.Is(err, ErrEmptyClip) {
		t.Fatalf("StopRecording = %v, want ErrEmptyClip", err)
	}
	if len(tr.calls) != 0 {
		t.Fatal("transcriber called for an empty clip")
	}
}

func TestController_StreamReleasedOnStop(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController(Config{}, dev, &fakeTranscriber{})

	c.StartRecording()
	dev.push(make([]float32, 512))
	c.StopRecording(context.Background())

	if len(dev.streams) != 1 || dev.streams[0].closed != 1 {
		t.Fatal("stream not released after stop")
	}

	// Late device callbacks after release must be dropped.
	var got int
	cancel := c.OnFrame(func([]float32) { got++ })
	defer cancel()
	dev.push(make([]float32, 512))
	if got != 0 {
		t.Fatal("frame delivered from a released stream")
	}
}

func TestController_HoldOpenKeepsStream(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController(Config{HoldOpen: true}, dev, &fakeTranscriber{})

	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	c.StartRecording()
	dev.push(make([]float32, 512))
	c.StopRecording(context.Background())

	if len(dev.streams) != 1 {
		t.Fatalf("opened %d streams, want 1 reused stream", len(dev.streams))
	}
	if dev.streams[0].closed != 0 {
		t.Fatal("hold-open stream was released on stop")
	}

	// The same stream serves the next take.
	if err := c.StartRecording(); err != nil {
		t.Fatalf("second StartRecording: %v", err)
	}
}

func TestController_FrameFanout(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController(Config{}, dev, &fakeTranscriber{})
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var a, b int
	cancelA := c.OnFrame(func([]float32) { a++ })
	cancelB := c.OnFrame(func([]float32) { b++ })
	defer cancelB()

	dev.push(make([]float32, 512))
	cancelA()
	cancelA() // safe to call twice
	dev.push(make([]float32, 512))

	if a != 1 || b != 2 {
		t.Fatalf("fanout counts a=%d b=%d, want 1 and 2", a, b)
	}
}

func TestController_DeviceErrors(t *testing.T) {
	dev := &fakeDevice{openErr: ErrPermissionDenied}
	c := NewController(Config{}, dev, &fakeTranscriber{})

	if err := c.StartRecording(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("StartRecording = %v, want ErrPermissionDenied", err)
	}
	if c.Recording() {
		t.Fatal("controller recording after failed start")
	}
}

func TestController_CloseRefusesFurtherUse(t *testing.T) {
	dev := &fakeDevice{}
	c := NewController(Config{}, dev, &fakeTranscriber{})
	c.Listen()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dev.streams[0].closed != 1 {
		t.Fatal("Close did not release the stream")
	}
	if err := c.StartRecording(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("StartRecording after Close = %v, want ErrDeviceUnavailable", err)
	}
}

func TestEncodeWAV_Clamping(t *testing.T) {
	clip := EncodeWAV([]float32{2.0, -2.0}, 44100)

	lo := int16(binary.LittleEndian.Uint16(clip[44:46]))
	hi := int16(binary.LittleEndian.Uint16(clip[46:48]))
	if lo != 32767 {
		t.Errorf("over-range sample = %d, want 32767", lo)
	}
	if hi != -32767 {
		t.Errorf("under-range sample = %d, want -32767", hi)
	}
}
