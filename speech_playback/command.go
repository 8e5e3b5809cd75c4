package speech_playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"assistant-voice-loop/logger"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const synthTimeout = 10 * time.Second

// output plays a decoded stream and calls done when it has been played in
// full. Clear drops whatever is still queued.
type output interface {
	Play(streamer beep.Streamer, format beep.Format, done func()) error
	Clear()
}

// commandImpl synthesizes speech with an external command and plays the WAV
// it produces.
type commandImpl struct {
	command string
	args    []string
	logger  logger.ILogger
	out     output
	decode  func(r io.Reader) (beep.StreamSeekCloser, beep.Format, error)

	mu         sync.Mutex
	speaking   bool
	generation uint64
	current    *clip
}

// clip is one decoded answer. It is closed either when it has played out or
// when a newer answer replaces it, whichever comes first.
type clip struct {
	streamer beep.StreamSeekCloser
	once     sync.Once
}

func (c *clip) close() {
	c.once.Do(func() { c.streamer.Close() })
}

func newCommandImpl(cfg *Config, out output) *commandImpl {
	return &commandImpl{
		command: cfg.Command,
		args:    cfg.Args,
		logger:  cfg.Logger,
		out:     out,
		decode:  wav.Decode,
	}
}

func (c *commandImpl) Speak(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	audio, err := c.synthesize(text)
	if err != nil {
		return err
	}

	streamer, format, err := c.decode(bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("decode synthesized audio: %w", err)
	}

	next := &clip{streamer: streamer}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	previous := c.current
	c.current = next
	c.speaking = true
	c.mu.Unlock()

	// a cleared stream never reaches its callback
	if previous != nil {
		c.out.Clear()
		previous.close()
	}

	err = c.out.Play(streamer, format, func() {
		next.close()
		c.finished(gen)
	})
	if err != nil {
		next.close()
		c.finished(gen)
		return fmt.Errorf("play: %w", err)
	}

	return nil
}

func (c *commandImpl) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *commandImpl) finished(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen == c.generation {
		c.speaking = false
		c.current = nil
	}
}

func (c *commandImpl) synthesize(text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), synthTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.Error(module, "synthesizer failed", map[string]interface{}{
			"error":   err,
			"command": c.command,
			"stderr":  strings.TrimSpace(stderr.String()),
		})
		return nil, fmt.Errorf("run %s: %w", c.command, err)
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("run %s: no audio produced", c.command)
	}

	return stdout.Bytes(), nil
}

// speakerOutput plays through the default sound device. The device is opened
// on first use at outputRate and every stream is resampled to it.
type speakerOutput struct {
	once    sync.Once
	initErr error
}

const outputRate = beep.SampleRate(44100)

func (s *speakerOutput) Play(streamer beep.Streamer, format beep.Format, done func()) error {
	s.once.Do(func() {
		s.initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	if s.initErr != nil {
		return fmt.Errorf("open speaker: %w", s.initErr)
	}

	var resampled beep.Streamer = streamer
	if format.SampleRate != outputRate {
		resampled = beep.Resample(4, format.SampleRate, outputRate, streamer)
	}

	speaker.Play(beep.Seq(resampled, beep.Callback(done)))

	return nil
}

func (s *speakerOutput) Clear() {
	if s.initErr == nil {
		speaker.Clear()
	}
}
