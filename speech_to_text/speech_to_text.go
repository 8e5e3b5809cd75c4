package speech_to_text

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/audio"
)

type sttImpl struct {
	model    whisper.Model
	language string

	// a whisper model is not safe for concurrent contexts
	mu sync.Mutex
}

type Config struct {
	Model    whisper.Model
	Language string
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	return &sttImpl{
		model:    cfg.Model,
		language: cfg.Language,
	}, nil
}

func (stt *sttImpl) Transcribe(wavBuffer audio.Buffer) (string, error) {
	stt.mu.Lock()
	defer stt.mu.Unlock()

	context, err := stt.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new whisper context: %w", err)
	}

	if stt.language != "" {
		if err := context.SetLanguage(stt.language); err != nil {
			return "", fmt.Errorf("set language %q: %w", stt.language, err)
		}
	}

	data := wavBuffer.AsFloat32Buffer().Data

	var cb whisper.SegmentCallback

	if err := context.Process(data, cb); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	segments, err := outputSegments(context)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(segments))
	for _, segment := range segments {
		texts = append(texts, segment.Text)
	}

	return JoinSegments(texts), nil
}

func outputSegments(context whisper.Context) ([]whisper.Segment, error) {
	segments := make([]whisper.Segment, 0)

	for {
		segment, err := context.NextSegment()
		if err == io.EOF {
			return segments, nil
		} else if err != nil {
			return nil, err
		}

		segments = append(segments, segment)
	}
}

// JoinSegments turns whisper segments into one transcript. Bracketed
// annotations such as "[music]" or "(silence)" and repeated segments are
// dropped.
func JoinSegments(texts []string) string {
	seenText := make(map[string]bool)

	parts := make([]string, 0, len(texts))

	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if text[0] == '(' || text[0] == '[' ||
			text[len(text)-1] == ')' || text[len(text)-1] == ']' {
			continue
		}

		if seenText[text] {
			continue
		}

		seenText[text] = true

		parts = append(parts, text)
	}

	return strings.Join(parts, " ")
}
