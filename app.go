package main

import (
	"fmt"

	"assistant-voice-loop/answer_engine"
	"assistant-voice-loop/config"
	"assistant-voice-loop/knowledge_base"
	"assistant-voice-loop/listener"
	"assistant-voice-loop/logger"
	"assistant-voice-loop/speech_extraction"
	"assistant-voice-loop/speech_playback"
	"assistant-voice-loop/speech_to_text"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/spf13/afero"
)

// app holds the pieces shared by the commands. close releases them in
// reverse order of creation.
type app struct {
	cfg     *config.Config
	fs      afero.Fs
	log     *logger.ZapLogger
	store   *knowledge_base.Store
	engine  *answer_engine.Engine
	closers []func()
}

func newApp() (*app, error) {
	fs := afero.NewOsFs()

	cfg, err := config.Load(fs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(&logger.Config{
		FilePath:   cfg.Log.FilePath,
		Production: cfg.Log.Production,
		Debug:      cfg.Log.Debug,
	})

	a := &app{cfg: cfg, fs: fs, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	store := openStore(cfg.Knowledge.DBPath, log)
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })

	engine, err := answer_engine.New(&answer_engine.Config{
		Store:          store,
		Logger:         log,
		CacheTTL:       cfg.Knowledge.CacheTTL,
		MatchThreshold: cfg.Knowledge.MatchThreshold,
		Fallback:       cfg.Listener.FallbackAnswer,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("answer engine: %w", err)
	}
	a.engine = engine

	return a, nil
}

// openStore opens the knowledge base. When that fails the loop still runs:
// the failure is logged once and every question gets the fallback answer.
func openStore(path string, log logger.ILogger) *knowledge_base.Store {
	store, err := knowledge_base.Open(path, log)
	if err != nil {
		log.Error("main", "knowledge base unavailable, learned answers disabled", map[string]interface{}{
			"error": err,
			"path":  path,
		})
		return knowledge_base.Unavailable(log)
	}

	return store
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) playback(override string) (speech_playback.Interface, error) {
	playbackType := a.cfg.Playback.Type
	if override != "" {
		playbackType = override
	}

	return speech_playback.New(&speech_playback.Config{
		Type:    playbackType,
		Command: a.cfg.Playback.Command,
		Args:    a.cfg.Playback.Args,
		Logger:  a.log,
	})
}

// capture builds microphone capture. Any failure is logged and yields nil,
// which the controller treats as capture being unsupported.
func (a *app) capture() listener.Capture {
	model, err := whisper.New(a.cfg.Capture.ModelPath)
	if err != nil {
		a.log.Error("main", "loading whisper model failed", map[string]interface{}{
			"error": err,
			"model": a.cfg.Capture.ModelPath,
		})
		return nil
	}
	a.closers = append(a.closers, func() { model.Close() })

	sttEngine, err := speech_to_text.New(&speech_to_text.Config{
		Model:    model,
		Language: a.cfg.Capture.Language,
	})
	if err != nil {
		a.log.Error("main", "speech_to_text.New failed", map[string]interface{}{"error": err})
		return nil
	}

	capture, err := speech_extraction.New(&speech_extraction.Config{
		Microphone:      speech_extraction.NewMicrophone(),
		STTEngine:       sttEngine,
		Logger:          a.log,
		FileSys:         a.fs,
		RecordDir:       a.cfg.Capture.RecordDir,
		SampleRate:      a.cfg.Capture.SampleRate,
		QuietTime:       a.cfg.Capture.QuietTime,
		NoSpeechTimeout: a.cfg.Capture.NoSpeechTimeout,
		MaxUtterance:    a.cfg.Capture.MaxUtterance,
	})
	if err != nil {
		a.log.Error("main", "speech_extraction.New failed", map[string]interface{}{"error": err})
		return nil
	}
	a.closers = append(a.closers, func() { capture.Close() })

	return capture
}

func (a *app) timing() listener.Timing {
	l := a.cfg.Listener

	return listener.Timing{
		RestartDelayOnEnd:    l.RestartDelayOnEnd,
		RestartDelayOnError:  l.RestartDelayOnError,
		MaxSessionDuration:   l.MaxSessionDuration,
		PlaybackPollInterval: l.PlaybackPollInterval,
		AnswerTimeout:        l.AnswerTimeout,
	}
}
