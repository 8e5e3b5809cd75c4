package speech_extraction

import (
	"time"

	"assistant-voice-loop/ring_buffer"
	"assistant-voice-loop/speech_extraction/vad"
)

// fluxRatio is how much the spectral flux has to jump for speech to be
// considered started, and to drop for it to be considered quiet.
const fluxRatio = 1.75

// preRollFrames of audio are kept from before speech is detected, or the
// first syllable would be cut off.
const preRollFrames = 2

type verdict int

const (
	keepListening verdict = iota
	utteranceDone
	nothingHeard
)

// segmenter decides, frame by frame, where one utterance begins and ends.
// Time is counted in frame durations so it follows the audio, not the wall
// clock.
type segmenter struct {
	vad     *vad.Detector
	preRoll *ring_buffer.Buffer

	frameDuration   time.Duration
	quietTime       time.Duration
	noSpeechTimeout time.Duration
	maxUtterance    time.Duration

	heardSomething bool
	quiet          bool
	lastFlux       float64
	waited         time.Duration
	quietFor       time.Duration
	spoken         time.Duration

	samples []int16
}

type segmenterConfig struct {
	sampleRate      int
	frameSize       int
	quietTime       time.Duration
	noSpeechTimeout time.Duration
	maxUtterance    time.Duration
}

func newSegmenter(cfg segmenterConfig) *segmenter {
	return &segmenter{
		vad:             vad.New(cfg.frameSize),
		preRoll:         ring_buffer.New(cfg.frameSize * preRollFrames),
		frameDuration:   time.Duration(cfg.frameSize) * time.Second / time.Duration(cfg.sampleRate),
		quietTime:       cfg.quietTime,
		noSpeechTimeout: cfg.noSpeechTimeout,
		maxUtterance:    cfg.maxUtterance,
	}
}

func (s *segmenter) feed(frame []int16) verdict {
	if !s.heardSomething {
		s.waited += s.frameDuration
		s.preRoll.Add(frame)
	} else {
		s.spoken += s.frameDuration
		s.samples = append(s.samples, frame...)
	}

	flux := s.vad.Flux(frame)

	switch {
	case s.lastFlux == 0:
		s.lastFlux = flux

	case s.heardSomething:
		if flux*fluxRatio <= s.lastFlux {
			if !s.quiet {
				s.quietFor = 0
			} else {
				s.quietFor += s.frameDuration
			}

			s.quiet = true
		} else {
			s.quiet = false
			s.lastFlux = flux
		}

	default:
		if flux >= s.lastFlux*fluxRatio {
			s.heardSomething = true
			s.samples = append(s.samples, s.preRoll.Read()...)
		}

		s.lastFlux = flux
	}

	if s.heardSomething {
		if s.quiet && s.quietFor > s.quietTime {
			return utteranceDone
		}

		if s.maxUtterance > 0 && s.spoken >= s.maxUtterance {
			return utteranceDone
		}

		return keepListening
	}

	if s.noSpeechTimeout > 0 && s.waited >= s.noSpeechTimeout {
		return nothingHeard
	}

	return keepListening
}

// utterance returns the captured samples, pre-roll included.
func (s *segmenter) utterance() []int16 {
	return s.samples
}
