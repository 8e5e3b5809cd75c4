package speech_playback

type Interface interface {
	// Speak starts saying text and returns once the audio is queued.
	Speak(text string) error
	IsSpeaking() bool
}
