//go:build whisper_cpp

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"
)

// CPPRecognizer is the whisper.cpp-backed Recognizer.
type CPPRecognizer struct {
	model    whisperpkg.Model
	threads  uint
	language string     // configured language ("auto" for auto-detection)
	mu       sync.Mutex // whisper.cpp contexts must not run concurrently on one model
}

func NewCPPRecognizer(modelPath string, threads int, language string) (Recognizer, error) {
	n := uint(runtime.NumCPU())
	if threads > 0 {
		n = uint(threads)
		log.Info().Int("threads", threads).Msg("whisper: using configured thread count")
	} else {
		log.Info().Uint("threads", n).Msg("whisper: using default thread count (CPU cores)")
	}
	if language == "" {
		language = "auto"
	}

	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	log.Info().Str("model", modelPath).Str("language", language).Msg("whisper: model loaded successfully")
	return &CPPRecognizer{model: m, threads: n, language: language}, nil
}

func (e *CPPRecognizer) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// SetLanguage configures the language for transcription. Use "auto" for auto-detection.
func (e *CPPRecognizer) SetLanguage(lang string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lang == "" {
		lang = "auto"
	}
	e.language = lang
	log.Info().Str("language", lang).Msg("whisper: language configured")
}

// Transcribe runs a full-context pass over samples and returns every segment
// with its relative timing. whisper.cpp does not expose a no-speech
// probability through the Go bindings, so it is estimated as one minus the
// mean probability of the segment's text tokens.
func (e *CPPRecognizer) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	if len(samples) == 0 {
		return Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("create context: %w", err)
	}
	wctx.SetThreads(e.threads)
	if err := wctx.SetLanguage(e.language); err != nil {
		log.Warn().Err(err).Str("language", e.language).Msg("whisper: language rejected, falling back to auto")
		_ = wctx.SetLanguage("auto")
	}
	wctx.SetSplitOnWord(true)
	wctx.SetTokenTimestamps(true)
	wctx.SetMaxSegmentLength(0)
	wctx.SetMaxTokensPerSegment(0)
	wctx.SetAudioCtx(0)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process audio: %w", err)
	}

	var res Result
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("whisper: error reading segment")
			break
		}
		res.Candidates = append(res.Candidates, Candidate{
			Start:        seg.Start.Seconds(),
			End:          seg.End.Seconds(),
			Text:         seg.Text,
			NoSpeechProb: noSpeechProb(seg.Tokens),
		})
	}

	res.Language = wctx.Language()
	if res.Language == "" || res.Language == "auto" {
		res.Language = wctx.DetectedLanguage()
	}
	if res.Language != "" {
		// whisper.cpp commits to a single language per pass.
		res.LanguageProb = 1
	}

	log.Debug().
		Int("segments", len(res.Candidates)).
		Int("samples", len(samples)).
		Str("lang", res.Language).
		Msg("whisper: transcription complete")
	return res, nil
}

func noSpeechProb(tokens []whisperpkg.Token) float64 {
	var sum float64
	n := 0
	for _, tok := range tokens {
		if strings.HasPrefix(tok.Text, "[_") {
			continue
		}
		sum += float64(tok.P)
		n++
	}
	if n == 0 {
		return 0
	}
	return 1 - sum/float64(n)
}
