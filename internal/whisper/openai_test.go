package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	req  openai.AudioRequest
	body []byte
	resp openai.AudioResponse
	err  error
}

func (f *fakeTranscriber) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.req = req
	if req.Reader != nil {
		f.body, _ = io.ReadAll(req.Reader)
	}
	return f.resp, f.err
}

func TestOpenAIRecognizerMapsSegments(t *testing.T) {
	fake := &fakeTranscriber{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"task": "transcribe",
		"language": "english",
		"duration": 0.1,
		"text": "hello there",
		"segments": [{"id": 0, "start": 0.2, "end": 1.4, "text": " hello there", "no_speech_prob": 0.1}]
	}`), &fake.resp))

	r := NewOpenAIRecognizerWithClient(fake, OpenAIConfig{Language: "auto"})
	res, err := r.Transcribe(context.Background(), make([]float32, 1600))
	require.NoError(t, err)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, Candidate{Start: 0.2, End: 1.4, Text: " hello there", NoSpeechProb: 0.1}, res.Candidates[0])
	assert.Equal(t, "english", res.Language)
	assert.Equal(t, 1.0, res.LanguageProb)

	assert.Equal(t, openai.Whisper1, fake.req.Model)
	assert.Equal(t, openai.AudioResponseFormatVerboseJSON, fake.req.Format)
	assert.Empty(t, fake.req.Language)
	assert.Equal(t, "RIFF", string(fake.body[:4]))
}

func TestOpenAIRecognizerLanguage(t *testing.T) {
	fake := &fakeTranscriber{}
	r := NewOpenAIRecognizerWithClient(fake, OpenAIConfig{Language: "de"})
	_, err := r.Transcribe(context.Background(), []float32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "de", fake.req.Language)

	r.SetLanguage("english")
	_, err = r.Transcribe(context.Background(), []float32{0, 0})
	require.NoError(t, err)
	assert.Empty(t, fake.req.Language, "language names fall back to auto-detection")

	r.SetLanguage("EN")
	_, err = r.Transcribe(context.Background(), []float32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "en", fake.req.Language)
}

func TestOpenAIRecognizerError(t *testing.T) {
	boom := errors.New("503")
	r := NewOpenAIRecognizerWithClient(&fakeTranscriber{err: boom}, OpenAIConfig{})
	_, err := r.Transcribe(context.Background(), []float32{0.1})
	assert.ErrorIs(t, err, boom)
}

func TestOpenAIRecognizerEmptyWindow(t *testing.T) {
	fake := &fakeTranscriber{err: errors.New("must not be called")}
	r := NewOpenAIRecognizerWithClient(fake, OpenAIConfig{})
	res, err := r.Transcribe(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestCandidateValid(t *testing.T) {
	nan := math.NaN()
	assert.True(t, Candidate{Start: 0, End: 1, Text: "hi"}.Valid())
	assert.False(t, Candidate{Start: 0, End: 1, Text: "   "}.Valid())
	assert.False(t, Candidate{Start: -1, End: 1, Text: "hi"}.Valid())
	assert.False(t, Candidate{Start: nan, End: 1, Text: "hi"}.Valid())
	assert.False(t, Candidate{Start: 0, End: 1, Text: "hi", NoSpeechProb: nan}.Valid())
}

func TestStubIsSilent(t *testing.T) {
	res, err := Stub{}.Transcribe(context.Background(), make([]float32, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.NoError(t, Stub{}.Close())
}

func TestNewRecognizer(t *testing.T) {
	r, err := NewRecognizer(Options{Backend: "stub"})
	require.NoError(t, err)
	assert.IsType(t, Stub{}, r)

	r, err = NewRecognizer(Options{Backend: "OpenAI", Language: "fr", OpenAI: OpenAIConfig{APIKey: "k"}})
	require.NoError(t, err)
	require.IsType(t, &OpenAIRecognizer{}, r)
	assert.Equal(t, "fr", r.(*OpenAIRecognizer).language)

	_, err = NewRecognizer(Options{Backend: "bogus"})
	assert.Error(t, err)
}

func TestBackendAliases(t *testing.T) {
	for name, want := range map[string]string{
		"":            "whispercpp",
		"whisper_cpp": "whispercpp",
		"CPP":         "whispercpp",
		"openai":      "openai",
		"none":        "stub",
	} {
		got, ok := Backend(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := Backend("bogus")
	assert.False(t, ok)
}
