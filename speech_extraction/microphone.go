package speech_extraction

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portaudioMicrophone reads from the default input device.
type portaudioMicrophone struct {
	mu           sync.Mutex
	audioRunning bool
}

func NewMicrophone() Microphone {
	return &portaudioMicrophone{}
}

func (m *portaudioMicrophone) initAudio() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.audioRunning {
		if err := portaudio.Initialize(); err != nil {
			return err
		}

		m.audioRunning = true
	}

	return nil
}

func (m *portaudioMicrophone) Open(sampleRate, frameSize int) (Stream, error) {
	if err := m.initAudio(); err != nil {
		return nil, fmt.Errorf("initialize audio: %w", err)
	}

	in := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(in), in)
	if err != nil {
		return nil, err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}

	return &portaudioStream{stream: stream, in: in}, nil
}

func (m *portaudioMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.audioRunning {
		return nil
	}

	m.audioRunning = false

	return portaudio.Terminate()
}

type portaudioStream struct {
	stream *portaudio.Stream
	in     []int16
}

func (s *portaudioStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}

	return s.in, nil
}

func (s *portaudioStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()

	if stopErr != nil {
		return stopErr
	}

	return closeErr
}
