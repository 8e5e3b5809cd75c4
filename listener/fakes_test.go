package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"assistant-voice-loop/logger"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// fakeCapture records start attempts and how many cycles were active at once.
type fakeCapture struct {
	mu        sync.Mutex
	events    Events
	history   []Events
	attempts  int
	starts    int
	stops     int
	active    int
	maxActive int
	startErr  error
}

func (f *fakeCapture) Start(events Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.startErr != nil {
		return f.startErr
	}

	f.starts++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.events = events
	f.history = append(f.history, events)

	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	f.active = 0
}

func (f *fakeCapture) finish() Events {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active > 0 {
		f.active--
	}

	return f.events
}

// eventsOf returns the Events handed to the n-th successful Start, counting
// from one.
func (f *fakeCapture) eventsOf(n int) Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[n-1]
}

func (f *fakeCapture) transcript(text string) { f.finish().HandleTranscript(text) }
func (f *fakeCapture) end() { f.finish().HandleEnd() }
func (f *fakeCapture) fail(err error) { f.finish().HandleError(err) }

func (f *fakeCapture) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeCapture) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeCapture) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeCapture) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeCapture) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// fakePlayback starts speaking on Speak and keeps speaking until finish.
type fakePlayback struct {
	mu       sync.Mutex
	spoken   []string
	speaking bool
	speakErr error
}

func (p *fakePlayback) Speak(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.spoken = append(p.spoken, text)
	p.speaking = true

	return p.speakErr
}

func (p *fakePlayback) IsSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

func (p *fakePlayback) setSpeaking(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speaking = v
}

func (p *fakePlayback) finish() { p.setSpeaking(false) }

func (p *fakePlayback) said() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.spoken...)
}

type answerFunc func(ctx context.Context, question string) (string, error)

func (f answerFunc) Answer(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

type harness struct {
	ctrl     *Controller
	capture  *fakeCapture
	playback *fakePlayback
	clock    *clock.Mock

	mu       sync.Mutex
	answered int
	ended    chan EndReason
}

func (h *harness) answeredCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answered
}

type harnessOption func(cfg *Config)

func withAnswerer(a Answerer) harnessOption {
	return func(cfg *Config) { cfg.Answerer = a }
}

func withoutPlayback() harnessOption {
	return func(cfg *Config) { cfg.Playback = nil }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		capture:  &fakeCapture{},
		playback: &fakePlayback{},
		clock:    clock.NewMock(),
		ended:    make(chan EndReason, 4),
	}

	cfg := &Config{
		Capture:  h.capture,
		Playback: h.playback,
		Answerer: answerFunc(func(ctx context.Context, question string) (string, error) {
			return "answer to " + question, nil
		}),
		OnAnswered: func() {
			h.mu.Lock()
			h.answered++
			h.mu.Unlock()
		},
		OnSessionEnd: func(reason EndReason) { h.ended <- reason },
		Clock:        h.clock,
		Logger:       logger.NewNop(),
		Timing:       DefaultTiming(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	ctrl, err := New(cfg)
	require.NoError(t, err)

	h.ctrl = ctrl

	return h
}

// advanceUntil moves the mock clock forward in steps until cond holds. Timer
// callbacks of the mock run on their own goroutines, so every step is
// re-checked rather than assumed.
func (h *harness) advanceUntil(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		h.clock.Add(step)
		return cond()
	}, 3*time.Second, 5*time.Millisecond)
}

func (h *harness) waitEnded(t *testing.T) EndReason {
	t.Helper()

	select {
	case reason := <-h.ended:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return ""
	}
}

// settle advances the mock clock by total and gives timer goroutines a moment
// to run, for assertions that something does NOT happen.
func (h *harness) settle(total time.Duration) {
	const steps = 10

	for i := 0; i < steps; i++ {
		h.clock.Add(total / steps)
	}

	time.Sleep(20 * time.Millisecond)
}
