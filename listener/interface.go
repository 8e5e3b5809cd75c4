package listener

import (
	"context"
	"errors"
	"time"
)

var ErrCaptureUnsupported = errors.New("speech capture is not supported")

// Events receives the outcome of a capture cycle. Implementations of Capture
// deliver these from their own goroutine, never from inside Start or Stop.
type Events interface {
	HandleTranscript(text string)
	HandleEnd()
	HandleError(err error)
}

// Capture performs single-shot speech capture: every Start yields at most one
// transcript and must be followed by a new Start for the next utterance. The
// events passed to Start belong to that cycle only.
type Capture interface {
	Start(events Events) error
	Stop()
}

type Playback interface {
	// Speak begins speaking text and returns without waiting for it to finish.
	Speak(text string) error
	IsSpeaking() bool
}

type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateWaitingForPlayback
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateWaitingForPlayback:
		return "waiting_for_playback"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type EndReason string

const (
	EndExpired EndReason = "expired"
	EndStopped EndReason = "stopped"
)

// SessionState is a point-in-time copy of the controller's session.
type SessionState struct {
	ID        string
	State     State
	Capturing bool
	KeepAlive bool
	Deadline  time.Time
}
