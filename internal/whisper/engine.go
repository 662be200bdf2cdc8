package whisper

import (
	"context"
	"math"
	"strings"
)

// Candidate is one recognized segment with times relative to the start of
// the samples handed to Transcribe.
type Candidate struct {
	Start        float64
	End          float64
	Text         string
	NoSpeechProb float64
}

// Valid reports whether the candidate carries usable fields. Zero-length
// spans are judged later, after clamping to the window duration.
func (c Candidate) Valid() bool {
	for _, v := range []float64{c.Start, c.End, c.NoSpeechProb} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.Start >= 0 && strings.TrimSpace(c.Text) != ""
}

// Result is the output of a single recognition call. Candidates are ordered
// by time and may be empty during silence.
type Result struct {
	Candidates   []Candidate
	Language     string
	LanguageProb float64
}

// Recognizer turns a block of 16 kHz mono samples into candidate segments.
// Implementations may be a no-op (stub), backed by whisper.cpp (build tag:
// whisper_cpp) or by an OpenAI-compatible transcription endpoint.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32) (Result, error)
	Close() error
}

// LanguageSetter is implemented by recognizers whose language can be pinned
// after detection. Use "auto" for auto-detection.
type LanguageSetter interface {
	SetLanguage(lang string)
}
