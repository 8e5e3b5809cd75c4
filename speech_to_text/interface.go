package speech_to_text

import "github.com/go-audio/audio"

type Interface interface {
	// Transcribe returns the text heard in one captured utterance. An
	// utterance with no recognizable speech yields an empty string.
	Transcribe(wavBuffer audio.Buffer) (string, error)
}
