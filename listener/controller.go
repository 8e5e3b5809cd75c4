package listener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"assistant-voice-loop/logger"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	module = "listener"

	DefaultFallbackAnswer = "इस प्रश्न का उत्तर मेरे ज्ञान में नहीं है।"
)

var (
	_ Events = (*Controller)(nil)
	_ Events = cycleEvents{}
)

// anyCycle marks an event that did not come through a cycle's own Events,
// such as a direct call on the Controller. It is applied to whatever cycle is
// current.
const anyCycle = 0

type Timing struct {
	RestartDelayOnEnd    time.Duration
	RestartDelayOnError  time.Duration
	MaxSessionDuration   time.Duration
	PlaybackPollInterval time.Duration
	AnswerTimeout        time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		RestartDelayOnEnd:    500 * time.Millisecond,
		RestartDelayOnError:  800 * time.Millisecond,
		MaxSessionDuration:   120 * time.Second,
		PlaybackPollInterval: 120 * time.Millisecond,
		AnswerTimeout:        5 * time.Second,
	}
}

type Config struct {
	// Capture may be nil when no capture device is available; the controller
	// then never activates.
	Capture  Capture
	Playback Playback
	Answerer Answerer

	// OnAnswered is called once per completed question/answer cycle.
	OnAnswered func()
	// OnSessionEnd is called when a running session expires or is stopped.
	OnSessionEnd func(reason EndReason)

	Clock          clock.Clock
	Logger         logger.ILogger
	Timing         Timing
	FallbackAnswer string
}

// Controller runs the listen -> answer -> speak -> listen loop for a single
// session. Capture events, timers and playback polling all arrive on
// different goroutines; mu serializes every change to the session.
type Controller struct {
	capture      Capture
	playback     Playback
	answerer     Answerer
	onAnswered   func()
	onSessionEnd func(reason EndReason)
	clock        clock.Clock
	logger       logger.ILogger
	timing       Timing
	fallback     string
	waiter       playbackWaiter

	mu        sync.Mutex
	state     State
	capturing bool
	keepAlive bool
	deadline  time.Time
	sessionID string

	// generation changes whenever a session begins or ends. Timers and
	// playback waits remember the generation they were armed in and do
	// nothing once it is stale.
	generation uint64

	// cycle is the capture cycle whose outcome is still awaited, zero when
	// none is. lastCycle numbers every Capture.Start attempt.
	cycle     uint64
	lastCycle uint64

	expiryTimer  *clock.Timer
	restartTimer *clock.Timer
	cancelWait   func()
}

func New(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	timing := withDefaults(cfg.Timing)

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	fallback := strings.TrimSpace(cfg.FallbackAnswer)
	if fallback == "" {
		fallback = DefaultFallbackAnswer
	}

	c := &Controller{
		capture:      cfg.Capture,
		playback:     cfg.Playback,
		answerer:     cfg.Answerer,
		onAnswered:   cfg.OnAnswered,
		onSessionEnd: cfg.OnSessionEnd,
		clock:        clk,
		logger:       cfg.Logger,
		timing:       timing,
		fallback:     fallback,
		waiter: playbackWaiter{
			clock:    clk,
			playback: cfg.Playback,
			interval: timing.PlaybackPollInterval,
		},
		state: StateIdle,
	}

	if c.capture == nil {
		c.logger.Warn(module, "speech capture not supported, listening disabled", nil)
	}

	return c, nil
}

func withDefaults(t Timing) Timing {
	d := DefaultTiming()

	if t.RestartDelayOnEnd <= 0 {
		t.RestartDelayOnEnd = d.RestartDelayOnEnd
	}
	if t.RestartDelayOnError <= 0 {
		t.RestartDelayOnError = d.RestartDelayOnError
	}
	if t.MaxSessionDuration <= 0 {
		t.MaxSessionDuration = d.MaxSessionDuration
	}
	if t.PlaybackPollInterval <= 0 {
		t.PlaybackPollInterval = d.PlaybackPollInterval
	}
	if t.AnswerTimeout <= 0 {
		t.AnswerTimeout = d.AnswerTimeout
	}

	return t
}

// Start begins listening. It is a no-op while a capture cycle is active. The
// first Start of a session arms the session deadline; later restarts within
// the session do not extend it.
func (c *Controller) Start() error {
	if c.capture == nil {
		return ErrCaptureUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return nil
	}

	fresh := !c.keepAlive
	previous := c.state

	if fresh {
		c.beginSessionLocked()
	}

	err := c.startCaptureLocked()
	if err == nil {
		return nil
	}

	if fresh {
		c.endSessionLocked()
		c.state = previous
		return fmt.Errorf("start capture: %w", err)
	}

	// a live session retries exactly as it would after a capture error
	c.state = StateIdle
	c.scheduleRestartLocked(c.timing.RestartDelayOnError)

	return fmt.Errorf("start capture: %w", err)
}

// Stop ends the session immediately, abandoning any utterance in flight.
func (c *Controller) Stop() {
	c.mu.Lock()

	if !c.keepAlive {
		c.state = StateStopped
		c.mu.Unlock()
		return
	}

	c.logger.Info(module, "session stopped", map[string]interface{}{"session_id": c.sessionID})

	wasCapturing := c.endSessionLocked()
	c.mu.Unlock()

	if wasCapturing {
		c.capture.Stop()
	}

	c.notifySessionEnd(EndStopped)
}

func (c *Controller) Session() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionState{
		ID:        c.sessionID,
		State:     c.state,
		Capturing: c.capturing,
		KeepAlive: c.keepAlive,
		Deadline:  c.deadline,
	}
}

// HandleTranscript answers one utterance and, once the answer has been
// spoken, listens again.
func (c *Controller) HandleTranscript(text string) {
	c.handleTranscript(anyCycle, text)
}

func (c *Controller) HandleEnd() {
	c.captureFinished(anyCycle, c.timing.RestartDelayOnEnd)
}

func (c *Controller) HandleError(err error) {
	c.handleError(anyCycle, err)
}

func (c *Controller) handleTranscript(cycle uint64, text string) {
	question := NormalizeTranscript(text)

	c.mu.Lock()

	if !c.acceptLocked(cycle) {
		c.mu.Unlock()
		c.logger.Debug(module, "transcript from abandoned capture dropped", map[string]interface{}{"transcript": question})
		return
	}

	if !c.keepAlive {
		c.capturing = false
		c.mu.Unlock()
		c.logger.Debug(module, "transcript after session end dropped", map[string]interface{}{"transcript": question})
		return
	}

	if question == "" {
		c.captureFinishedLocked(c.timing.RestartDelayOnEnd)
		c.mu.Unlock()
		return
	}

	c.capturing = false
	c.state = StateWaitingForPlayback
	generation := c.generation
	sessionID := c.sessionID

	c.mu.Unlock()

	c.logger.Info(module, "heard", map[string]interface{}{
		"session_id": sessionID,
		"transcript": question,
	})

	reply := c.lookup(question)
	c.speak(sessionID, reply)

	if c.onAnswered != nil {
		c.onAnswered()
	}

	c.mu.Lock()
	alive := generation == c.generation && c.keepAlive
	c.mu.Unlock()

	if !alive {
		return
	}

	cancel := c.waiter.wait(func() { c.resumeAfterPlayback(generation) })

	c.mu.Lock()
	if generation == c.generation {
		c.replaceWaitLocked(cancel)
	} else {
		cancel()
	}
	c.mu.Unlock()
}

func (c *Controller) handleError(cycle uint64, err error) {
	c.logger.Warn(module, "capture error", map[string]interface{}{"error": err})

	c.captureFinished(cycle, c.timing.RestartDelayOnError)
}

func (c *Controller) captureFinished(cycle uint64, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acceptLocked(cycle) {
		c.logger.Debug(module, "event from abandoned capture dropped", nil)
		return
	}

	c.captureFinishedLocked(delay)
}

func (c *Controller) captureFinishedLocked(delay time.Duration) {
	c.capturing = false

	if !c.keepAlive {
		return
	}

	// a transcript cycle in progress restarts capture itself
	if c.state == StateWaitingForPlayback {
		return
	}

	c.state = StateIdle

	if c.playback != nil && c.playback.IsSpeaking() {
		generation := c.generation
		c.replaceWaitLocked(c.waiter.wait(func() { c.scheduleRestart(generation, delay) }))
		return
	}

	c.scheduleRestartLocked(delay)
}

// acceptLocked reports whether an event from cycle applies to the current
// capture. The first accepted event settles the cycle, so it yields at most
// one outcome.
func (c *Controller) acceptLocked(cycle uint64) bool {
	if cycle != anyCycle && cycle != c.cycle {
		return false
	}

	c.cycle = 0

	return true
}

func (c *Controller) resumeAfterPlayback(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || !c.keepAlive {
		return
	}

	c.cancelWait = nil

	if c.capturing {
		return
	}

	if err := c.startCaptureLocked(); err != nil {
		c.state = StateIdle
		c.scheduleRestartLocked(c.timing.RestartDelayOnError)
	}
}

func (c *Controller) scheduleRestart(generation uint64, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || !c.keepAlive {
		return
	}

	c.cancelWait = nil
	c.scheduleRestartLocked(delay)
}

func (c *Controller) scheduleRestartLocked(delay time.Duration) {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}

	generation := c.generation
	c.restartTimer = c.clock.AfterFunc(delay, func() { c.restart(generation) })
}

func (c *Controller) restart(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a Start that slipped in during the backoff wins, and an answer being
	// spoken keeps the microphone closed
	if generation != c.generation || !c.keepAlive || c.capturing || c.state == StateWaitingForPlayback {
		return
	}

	if err := c.startCaptureLocked(); err != nil {
		c.state = StateIdle
		c.scheduleRestartLocked(c.timing.RestartDelayOnError)
	}
}

func (c *Controller) startCaptureLocked() error {
	c.lastCycle++
	cycle := c.lastCycle

	if err := c.capture.Start(cycleEvents{c: c, cycle: cycle}); err != nil {
		c.logger.Warn(module, "capture start failed", map[string]interface{}{
			"session_id": c.sessionID,
			"error":      err,
		})
		return err
	}

	c.cycle = cycle
	c.capturing = true
	c.state = StateCapturing

	// a backoff armed before this cycle started is no longer needed
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}

	c.logger.Debug(module, "capture started", map[string]interface{}{"session_id": c.sessionID})

	return nil
}

func (c *Controller) beginSessionLocked() {
	c.generation++
	c.sessionID = uuid.NewString()
	c.keepAlive = true
	c.deadline = c.clock.Now().Add(c.timing.MaxSessionDuration)

	generation := c.generation
	c.expiryTimer = c.clock.AfterFunc(c.timing.MaxSessionDuration, func() { c.expire(generation) })

	c.logger.Info(module, "session started", map[string]interface{}{
		"session_id": c.sessionID,
		"deadline":   c.deadline,
	})
}

// endSessionLocked clears the session and disarms every pending timer. It
// reports whether a capture cycle was active and needs stopping.
func (c *Controller) endSessionLocked() bool {
	wasCapturing := c.capturing

	c.generation++
	c.keepAlive = false
	c.capturing = false
	c.cycle = 0
	c.deadline = time.Time{}
	c.state = StateStopped

	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}

	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}

	c.replaceWaitLocked(nil)

	return wasCapturing
}

func (c *Controller) expire(generation uint64) {
	c.mu.Lock()

	if generation != c.generation || !c.keepAlive {
		c.mu.Unlock()
		return
	}

	c.logger.Info(module, "session expired", map[string]interface{}{
		"session_id": c.sessionID,
		"after":      c.timing.MaxSessionDuration.String(),
	})

	wasCapturing := c.endSessionLocked()
	c.mu.Unlock()

	if wasCapturing {
		c.capture.Stop()
	}

	c.notifySessionEnd(EndExpired)
}

func (c *Controller) replaceWaitLocked(cancel func()) {
	if c.cancelWait != nil {
		c.cancelWait()
	}

	c.cancelWait = cancel
}

func (c *Controller) lookup(question string) string {
	if c.answerer == nil {
		return c.fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timing.AnswerTimeout)
	defer cancel()

	reply, err := c.answerer.Answer(ctx, question)
	if err != nil {
		c.logger.Warn(module, "answer lookup failed", map[string]interface{}{
			"question": question,
			"error":    err,
		})
		return c.fallback
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return c.fallback
	}

	return reply
}

func (c *Controller) speak(sessionID, reply string) {
	if c.playback == nil {
		c.logger.Info(module, "answer (no playback)", map[string]interface{}{
			"session_id": sessionID,
			"answer":     reply,
		})
		return
	}

	if err := c.playback.Speak(reply); err != nil {
		c.logger.Warn(module, "playback failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err,
		})
	}
}

func (c *Controller) notifySessionEnd(reason EndReason) {
	if c.onSessionEnd != nil {
		c.onSessionEnd(reason)
	}
}

// NormalizeTranscript puts a recognizer transcript in NFC form and collapses
// its whitespace.
func NormalizeTranscript(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// cycleEvents is the Events handed to one Capture.Start. Events of a cycle
// that was abandoned or already settled are dropped.
type cycleEvents struct {
	c     *Controller
	cycle uint64
}

func (e cycleEvents) HandleTranscript(text string) {
	e.c.handleTranscript(e.cycle, text)
}

func (e cycleEvents) HandleEnd() {
	e.c.captureFinished(e.cycle, e.c.timing.RestartDelayOnEnd)
}

func (e cycleEvents) HandleError(err error) {
	e.c.handleError(e.cycle, err)
}
