package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/obiente/translate/streamwhisper/internal/eventbus"
)

func TestCaptionsKeepsLastWords(t *testing.T) {
	segs := []Segment{
		{Text: " the quick brown"},
		{Text: " fox jumps"},
		{Text: ""},
		{Text: "over the lazy dog"},
	}
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", Captions(segs, 0))
	assert.Equal(t, "the lazy dog", Captions(segs, 3))
	assert.Equal(t, "", Captions(nil, 10))
}

func TestSegmentsFrom(t *testing.T) {
	want := []Segment{{Start: 1, End: 2, Text: "hi"}}
	got, ok := SegmentsFrom(eventbus.Event{Kind: eventbus.TranscriptUpdated, Payload: want})
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = SegmentsFrom(eventbus.Event{Kind: eventbus.PauseTranscription})
	assert.False(t, ok)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 0
	cfg.MinBufferSeconds = 40
	cfg.NoSpeechThresh = 2

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "sample rate")
	assert.ErrorContains(t, err, "min buffer seconds")
	assert.ErrorContains(t, err, "no speech threshold")
}
