package speech_extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrame = 512 // 32ms at 16kHz

func testSegmenter(quiet, noSpeech, maxUtterance time.Duration) *segmenter {
	return newSegmenter(segmenterConfig{
		sampleRate:      16000,
		frameSize:       testFrame,
		quietTime:       quiet,
		noSpeechTimeout: noSpeech,
		maxUtterance:    maxUtterance,
	})
}

// feedUntil feeds frames (then silence) until the segmenter gives a verdict,
// returning it and how many frames it took.
func feedUntil(seg *segmenter, frames [][]int16, limit int) (verdict, int) {
	for i := 0; i < limit; i++ {
		frame := silence(testFrame)
		if i < len(frames) {
			frame = frames[i]
		}

		if v := seg.feed(frame); v != keepListening {
			return v, i + 1
		}
	}

	return keepListening, limit
}

func TestSegmenter_SilenceTimesOut(t *testing.T) {
	seg := testSegmenter(200*time.Millisecond, 320*time.Millisecond, 5*time.Second)

	v, n := feedUntil(seg, nil, 100)

	assert.Equal(t, nothingHeard, v)
	assert.Equal(t, 10, n)
	assert.Empty(t, seg.utterance())
}

func TestSegmenter_UtteranceKeepsPreRoll(t *testing.T) {
	frames := utteranceFrames(testFrame, 3)
	seg := testSegmenter(200*time.Millisecond, 5*time.Second, 5*time.Second)

	v, _ := feedUntil(seg, frames, 100)
	require.Equal(t, utteranceDone, v)

	got := seg.utterance()
	require.GreaterOrEqual(t, len(got), 4*testFrame)

	// the frame before the burst, then the burst itself
	assert.Equal(t, frames[3], got[:testFrame])
	assert.Equal(t, frames[4], got[testFrame:2*testFrame])
	assert.Equal(t, frames[5], got[2*testFrame:3*testFrame])
}

func TestSegmenter_EndsAfterQuietTime(t *testing.T) {
	frames := utteranceFrames(testFrame, 1)

	short := testSegmenter(100*time.Millisecond, 5*time.Second, 5*time.Second)
	_, shortFrames := feedUntil(short, frames, 100)

	long := testSegmenter(400*time.Millisecond, 5*time.Second, 5*time.Second)
	_, longFrames := feedUntil(long, frames, 100)

	assert.Greater(t, longFrames, shortFrames)
}

func TestSegmenter_MaxUtterance(t *testing.T) {
	frames := utteranceFrames(testFrame, 2)
	seg := testSegmenter(time.Hour, 5*time.Second, 96*time.Millisecond)

	v, n := feedUntil(seg, frames, 100)

	require.Equal(t, utteranceDone, v)
	// detection on the fifth frame, then three more frames of speech
	assert.Equal(t, 8, n)
	assert.Len(t, seg.utterance(), 2*testFrame+3*testFrame)
}
