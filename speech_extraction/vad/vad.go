// Package vad measures spectral flux over fixed-size frames of 16-bit PCM.
// The capture segmenter compares successive flux values to decide when
// somebody starts and stops talking.
package vad

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

type Detector struct {
	size     int
	window   []float64
	previous []float64
}

func New(frameSize int) *Detector {
	if frameSize <= 0 {
		frameSize = 1
	}

	return &Detector{
		size:   frameSize,
		window: window.Hann(frameSize),
	}
}

// Flux returns the positive spectral difference between samples and the
// previous frame. The first frame is compared against silence.
func (d *Detector) Flux(samples []int16) float64 {
	frame := make([]float64, d.size)
	for i := 0; i < d.size && i < len(samples); i++ {
		frame[i] = float64(samples[i]) / math.MaxInt16 * d.window[i]
	}

	spectrum := fft.FFTReal(frame)

	// only the first half of a real FFT carries information
	bins := len(spectrum)/2 + 1
	magnitudes := make([]float64, bins)
	for i := 0; i < bins; i++ {
		magnitudes[i] = cmplx.Abs(spectrum[i])
	}

	var flux float64
	for i, m := range magnitudes {
		prev := 0.0
		if d.previous != nil {
			prev = d.previous[i]
		}

		if diff := m - prev; diff > 0 {
			flux += diff
		}
	}

	d.previous = magnitudes

	return flux
}

func (d *Detector) Reset() {
	d.previous = nil
}
