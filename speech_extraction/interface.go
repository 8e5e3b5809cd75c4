package speech_extraction

// Microphone opens an input stream of mono 16-bit samples.
type Microphone interface {
	Open(sampleRate, frameSize int) (Stream, error)
	Close() error
}

// Stream yields one frame per Read. The returned slice is only valid until
// the next Read.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}
