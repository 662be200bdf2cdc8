package whisper

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/obiente/translate/streamwhisper/internal/audio"
)

// Transcriber is the subset of the go-openai client used by OpenAIRecognizer.
type Transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAIConfig configures an OpenAI-compatible /audio/transcriptions backend
// (OpenAI, faster-whisper-server, LocalAI, ...).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	SampleRate int
	Timeout    time.Duration
}

// OpenAIRecognizer uploads each window as a WAV file and requests
// verbose_json so per-segment timing and no_speech_prob come back.
type OpenAIRecognizer struct {
	client     Transcriber
	model      string
	sampleRate int
	timeout    time.Duration

	mu       sync.Mutex
	language string
}

func NewOpenAIRecognizer(cfg OpenAIConfig) *OpenAIRecognizer {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return NewOpenAIRecognizerWithClient(openai.NewClientWithConfig(oc), cfg)
}

// NewOpenAIRecognizerWithClient wires an existing client, mostly for tests.
func NewOpenAIRecognizerWithClient(client Transcriber, cfg OpenAIConfig) *OpenAIRecognizer {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIRecognizer{
		client:     client,
		model:      cfg.Model,
		sampleRate: cfg.SampleRate,
		timeout:    cfg.Timeout,
		language:   normalizeLanguage(cfg.Language),
	}
}

// normalizeLanguage keeps ISO-639 codes only. verbose_json reports detected
// languages by name ("english"), which the request field does not accept.
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "auto" || len(lang) > 3 {
		return ""
	}
	return lang
}

func (r *OpenAIRecognizer) SetLanguage(lang string) {
	r.mu.Lock()
	r.language = normalizeLanguage(lang)
	r.mu.Unlock()
	log.Info().Str("language", lang).Msg("whisper: openai language configured")
}

func (r *OpenAIRecognizer) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	if len(samples) == 0 {
		return Result{}, nil
	}
	wav, err := audio.EncodeWAV(samples, r.sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode window: %w", err)
	}

	r.mu.Lock()
	lang := r.language
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Language: lang,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}

	res := Result{Language: resp.Language}
	if res.Language != "" {
		res.LanguageProb = 1
	}
	for _, s := range resp.Segments {
		res.Candidates = append(res.Candidates, Candidate{
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			NoSpeechProb: s.NoSpeechProb,
		})
	}
	log.Debug().
		Int("segments", len(res.Candidates)).
		Int("samples", len(samples)).
		Str("lang", res.Language).
		Msg("whisper: openai transcription complete")
	return res, nil
}

func (r *OpenAIRecognizer) Close() error { return nil }
