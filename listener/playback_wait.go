package listener

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// playbackWaiter holds the microphone back until the assistant has finished
// talking, so capture never hears the assistant's own voice.
type playbackWaiter struct {
	clock    clock.Clock
	playback Playback
	interval time.Duration
}

// wait polls the playback status every interval and calls done exactly once,
// as soon as playback reports it is not speaking. With no playback attached
// done runs immediately on the calling goroutine. The returned func abandons
// the wait; a done call that is already under way still completes.
func (w *playbackWaiter) wait(done func()) (cancel func()) {
	if w.playback == nil {
		done()
		return func() {}
	}

	var (
		mu       sync.Mutex
		finished bool
		timer    *clock.Timer
	)

	var poll func()
	poll = func() {
		if w.playback.IsSpeaking() {
			mu.Lock()
			if !finished {
				timer = w.clock.AfterFunc(w.interval, poll)
			}
			mu.Unlock()
			return
		}

		mu.Lock()
		if finished {
			mu.Unlock()
			return
		}
		finished = true
		mu.Unlock()

		done()
	}

	mu.Lock()
	timer = w.clock.AfterFunc(w.interval, poll)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()

		finished = true
		if timer != nil {
			timer.Stop()
		}
	}
}
