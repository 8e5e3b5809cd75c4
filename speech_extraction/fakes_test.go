package speech_extraction

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/go-audio/audio"
)

// scriptedStream plays back a fixed list of frames, then repeats silence.
// A read blocks on gate when one is set.
type scriptedStream struct {
	mu      sync.Mutex
	frames  [][]int16
	size    int
	reads   int
	closed  bool
	readErr error
	gate    chan struct{}
}

func (s *scriptedStream) Read() ([]int16, error) {
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}

	s.reads++
	if len(s.frames) == 0 {
		return make([]int16, s.size), nil
	}

	frame := s.frames[0]
	s.frames = s.frames[1:]

	return frame, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *scriptedStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMicrophone struct {
	mu      sync.Mutex
	stream  *scriptedStream
	openErr error
	opened  int
	closed  bool
}

func (m *fakeMicrophone) Open(sampleRate, frameSize int) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}

	m.opened++
	m.stream.size = frameSize

	return m.stream, nil
}

func (m *fakeMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

type fakeSTT struct {
	mu      sync.Mutex
	text    string
	err     error
	buffers []*audio.IntBuffer
}

func (f *fakeSTT) Transcribe(wavBuffer audio.Buffer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := wavBuffer.(*audio.IntBuffer); ok {
		f.buffers = append(f.buffers, b)
	}

	return f.text, f.err
}

func (f *fakeSTT) calls() []*audio.IntBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*audio.IntBuffer(nil), f.buffers...)
}

type event struct {
	kind string
	text string
	err  error
}

type recordingEvents struct {
	ch chan event
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{ch: make(chan event, 4)}
}

func (r *recordingEvents) HandleTranscript(text string) { r.ch <- event{kind: "transcript", text: text} }
func (r *recordingEvents) HandleEnd() { r.ch <- event{kind: "end"} }
func (r *recordingEvents) HandleError(err error) { r.ch <- event{kind: "error", err: err} }

var errDevice = errors.New("device unavailable")

func silence(size int) []int16 {
	return make([]int16, size)
}

func noise(rng *rand.Rand, size int, amplitude int) []int16 {
	frame := make([]int16, size)
	for i := range frame {
		frame[i] = int16(rng.Intn(2*amplitude+1) - amplitude)
	}
	return frame
}

// utteranceFrames is faint background noise, a loud burst and then silence.
func utteranceFrames(size, burst int) [][]int16 {
	rng := rand.New(rand.NewSource(7))

	var frames [][]int16
	for i := 0; i < 4; i++ {
		frames = append(frames, noise(rng, size, 20))
	}
	for i := 0; i < burst; i++ {
		frames = append(frames, noise(rng, size, 12000))
	}

	return frames
}
