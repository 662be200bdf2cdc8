package transcript

import (
	"strings"

	"github.com/obiente/translate/streamwhisper/internal/eventbus"
)

// Segment is a span of recognized speech in seconds since stream start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SegmentsFrom extracts the payload of a TranscriptUpdated event.
func SegmentsFrom(ev eventbus.Event) ([]Segment, bool) {
	segs, ok := ev.Payload.([]Segment)
	return segs, ok
}

// Captions joins segment texts and keeps the last maxWords words. A
// non-positive maxWords keeps everything.
func Captions(segs []Segment, maxWords int) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.Text)
		sb.WriteByte(' ')
	}
	words := strings.Fields(sb.String())
	if maxWords > 0 && len(words) > maxWords {
		words = words[len(words)-maxWords:]
	}
	return strings.Join(words, " ")
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
