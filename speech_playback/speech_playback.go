// Package speech_playback says answers out loud.
package speech_playback

import (
	"fmt"

	"assistant-voice-loop/logger"
)

const (
	module = "speech_playback"

	TypeCommand = "command"
	TypeSilent  = "silent"
)

type Config struct {
	// Type selects the implementation: TypeCommand or TypeSilent.
	Type string

	// Command and Args run the synthesizer. The text is written to its
	// stdin and WAV audio is expected on stdout.
	Command string
	Args    []string

	Logger logger.ILogger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	switch cfg.Type {
	case TypeSilent:
		return &silentImpl{logger: cfg.Logger}, nil
	case TypeCommand, "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("command is empty")
		}
		return newCommandImpl(cfg, &speakerOutput{}), nil
	default:
		return nil, fmt.Errorf("unknown playback type %q", cfg.Type)
	}
}

// silentImpl only logs what would have been said.
type silentImpl struct {
	logger logger.ILogger
}

func (s *silentImpl) Speak(text string) error {
	s.logger.Info(module, "speak", map[string]interface{}{"text": text})
	return nil
}

func (s *silentImpl) IsSpeaking() bool {
	return false
}
