// Package speech_extraction captures one spoken utterance from the microphone
// and hands its transcript to the listener.
package speech_extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"assistant-voice-loop/listener"
	"assistant-voice-loop/logger"
	"assistant-voice-loop/speech_to_text"

	"github.com/go-audio/audio"
	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

const (
	module = "speech_extraction"

	DefaultSampleRate      = 16000
	DefaultFrameSize       = 8196
	DefaultQuietTime       = 200 * time.Millisecond
	DefaultNoSpeechTimeout = 8 * time.Second
	DefaultMaxUtterance    = 15 * time.Second
)

var ErrBusy = errors.New("capture already running")

type Config struct {
	Microphone Microphone
	STTEngine  speech_to_text.Interface
	Logger     logger.ILogger

	// FileSys and RecordDir are optional. When both are set every
	// utterance is also written there as a WAV file.
	FileSys   afero.Fs
	RecordDir string

	SampleRate      int
	FrameSize       int
	QuietTime       time.Duration
	NoSpeechTimeout time.Duration
	MaxUtterance    time.Duration
}

// Capture runs single-shot capture cycles: Start opens the input stream and
// returns, the cycle then ends with exactly one event.
type Capture struct {
	mic       Microphone
	sttEngine speech_to_text.Interface
	logger    logger.ILogger
	fileSys   afero.Fs
	recordDir string
	segments  segmenterConfig
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ listener.Capture = (*Capture)(nil)

func New(cfg *Config) (*Capture, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Microphone == nil {
		return nil, fmt.Errorf("microphone is nil")
	}

	if cfg.STTEngine == nil {
		return nil, fmt.Errorf("sttEngine is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	segments := segmenterConfig{
		sampleRate:      orInt(cfg.SampleRate, DefaultSampleRate),
		frameSize:       orInt(cfg.FrameSize, DefaultFrameSize),
		quietTime:       orDuration(cfg.QuietTime, DefaultQuietTime),
		noSpeechTimeout: orDuration(cfg.NoSpeechTimeout, DefaultNoSpeechTimeout),
		maxUtterance:    orDuration(cfg.MaxUtterance, DefaultMaxUtterance),
	}

	return &Capture{
		mic:       cfg.Microphone,
		sttEngine: cfg.STTEngine,
		logger:    cfg.Logger,
		fileSys:   cfg.FileSys,
		recordDir: cfg.RecordDir,
		segments:  segments,
		now:       time.Now,
	}, nil
}

// Start opens the input stream and listens for one utterance in the
// background. Device errors are returned here, everything after is reported
// through events.
func (c *Capture) Start(events listener.Events) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrBusy
	}

	stream, err := c.mic.Open(c.segments.sampleRate, c.segments.frameSize)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.running = true
	c.cancel = cancel
	c.done = done

	go c.run(ctx, stream, events, done)

	return nil
}

// Stop abandons the running cycle, which then reports an end. It does not
// wait for the cycle to wind down.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
}

// Close stops any running cycle, waits for it and releases the microphone.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	return c.mic.Close()
}

func (c *Capture) run(ctx context.Context, stream Stream, events listener.Events, done chan struct{}) {
	defer close(done)

	deliver := func(event func()) {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()

		// events may start the next cycle straight away
		event()
	}

	samples, heard, err := c.listen(ctx, stream)
	if closeErr := stream.Close(); closeErr != nil {
		c.logger.Warn(module, "closing input stream failed", map[string]interface{}{"error": closeErr})
	}

	if err != nil {
		deliver(func() { events.HandleError(err) })
		return
	}

	if !heard || ctx.Err() != nil {
		deliver(events.HandleEnd)
		return
	}

	c.record(samples)

	text, err := c.sttEngine.Transcribe(c.toBuffer(samples))
	if err != nil {
		c.logger.Error(module, "transcription failed", map[string]interface{}{"error": err})
		deliver(func() { events.HandleError(fmt.Errorf("transcribe: %w", err)) })
		return
	}

	text = strings.TrimSpace(text)

	if text == "" || ctx.Err() != nil {
		deliver(events.HandleEnd)
		return
	}

	c.logger.Debug(module, "heard", map[string]interface{}{"text": text})

	deliver(func() { events.HandleTranscript(text) })
}

// listen reads frames until the segmenter has an utterance, nothing was said
// in time, or ctx is cancelled.
func (c *Capture) listen(ctx context.Context, stream Stream) ([]int16, bool, error) {
	seg := newSegmenter(c.segments)

	for {
		if ctx.Err() != nil {
			return nil, false, nil
		}

		frame, err := stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("read input stream: %w", err)
		}

		switch seg.feed(frame) {
		case utteranceDone:
			return seg.utterance(), true, nil
		case nothingHeard:
			c.logger.Debug(module, "no speech before timeout", nil)
			return nil, false, nil
		}
	}
}

func (c *Capture) toBuffer(samples []int16) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  c.segments.sampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
}

// record writes the utterance to RecordDir. Failures are logged and do not
// affect the cycle.
func (c *Capture) record(samples []int16) {
	if c.fileSys == nil || c.recordDir == "" {
		return
	}

	path, err := c.writeWave(samples)
	if err != nil {
		c.logger.Warn(module, "recording utterance failed", map[string]interface{}{"error": err})
		return
	}

	c.logger.Debug(module, "recorded utterance", map[string]interface{}{"path": path})
}

func (c *Capture) writeWave(samples []int16) (string, error) {
	if err := c.fileSys.MkdirAll(c.recordDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(c.recordDir, fmt.Sprintf("utterance-%d.wav", c.now().UnixNano()))

	waveFile, err := c.fileSys.Create(path)
	if err != nil {
		return "", err
	}

	param := wave.WriterParam{
		Out:           waveFile,
		Channel:       1,
		SampleRate:    c.segments.sampleRate,
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		waveFile.Close()
		return "", err
	}

	if _, err := waveWriter.WriteSample16(samples); err != nil {
		waveWriter.Close()
		return "", err
	}

	if err := waveWriter.Close(); err != nil {
		return "", err
	}

	return path, nil
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
