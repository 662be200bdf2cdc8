// Package transcript turns noisy, restated recognizer output into a
// monotonically growing transcript.
//
// Each recognition cycle transcribes everything after the timestamp offset.
// All candidates but the last are treated as complete and committed at once;
// the last one is provisional until the recognizer has returned the same text
// for StabilityThreshold further cycles, at which point it is committed and
// the timestamp offset jumps past the processed window.
package transcript

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/streamwhisper/internal/audio"
	"github.com/obiente/translate/streamwhisper/internal/eventbus"
	"github.com/obiente/translate/streamwhisper/internal/metrics"
	"github.com/obiente/translate/streamwhisper/internal/whisper"
)

// State is the run state of the recognition worker.
type State int32

const (
	Running State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "running"
}

// StepResult describes what a single cycle did.
type StepResult int

const (
	StepPaused StepResult = iota
	StepIdle
	StepError
	StepLanguagePending
	StepSilence
	StepPublished
)

var stepNames = [...]string{"paused", "idle", "error", "language_pending", "silence", "published"}

func (r StepResult) String() string {
	if int(r) < len(stepNames) {
		return stepNames[r]
	}
	return fmt.Sprintf("step:%d", int(r))
}

// historyLimit bounds the local text history used for duplicate and pause
// bookkeeping.
const historyLimit = 64

// Option customizes a Stabilizer.
type Option func(*Stabilizer)

// WithClock replaces time.Now, for silence handling in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Stabilizer) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stabilizer) { s.metrics = m }
}

// Stabilizer drives the recognize, reconcile, commit cycle. Step and Run must
// only be called from one goroutine (the recognition worker); the accessors
// and Pause/Resume are safe from any goroutine.
type Stabilizer struct {
	cfg     Config
	buf     *audio.RingBuffer
	rec     whisper.Recognizer
	bus     *eventbus.Bus
	now     func() time.Time
	metrics *metrics.Metrics

	// recognition worker state
	history      []string // committed and complete texts; "" marks a pause
	prevText     string
	stability    int
	silenceStart time.Time
	langDone     bool

	mu          sync.Mutex // guards the fields below for readers
	offset      float64
	transcript  []Segment
	provisional *Segment
	published   []Segment
	language    string

	state   atomic.Int32
	gateMu  sync.Mutex
	resumed chan struct{} // closed while running
}

func NewStabilizer(cfg Config, buf *audio.RingBuffer, rec whisper.Recognizer, bus *eventbus.Bus, opts ...Option) (*Stabilizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if buf == nil || rec == nil || bus == nil {
		return nil, fmt.Errorf("%w: buffer, recognizer and bus are required", ErrInvalidConfig)
	}
	s := &Stabilizer{
		cfg:     cfg,
		buf:     buf,
		rec:     rec,
		bus:     bus,
		now:     time.Now,
		resumed: make(chan struct{}),
	}
	close(s.resumed)
	switch cfg.Language {
	case "":
		s.langDone = true
	case "auto":
	default:
		s.langDone = true
		s.language = cfg.Language
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pause stops recognition without dropping any state.
func (s *Stabilizer) Pause() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if State(s.state.Load()) == Paused {
		return
	}
	s.state.Store(int32(Paused))
	s.resumed = make(chan struct{})
	s.metrics.SetPaused(true)
	log.Info().Msg("transcription paused")
}

func (s *Stabilizer) Resume() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if State(s.state.Load()) == Running {
		return
	}
	s.state.Store(int32(Running))
	close(s.resumed)
	s.metrics.SetPaused(false)
	log.Info().Msg("transcription resumed")
}

func (s *Stabilizer) State() State {
	return State(s.state.Load())
}

// WaitResumed blocks until the stabilizer is running, ctx is done or timeout
// elapses. It reports whether recognition may proceed.
func (s *Stabilizer) WaitResumed(ctx context.Context, timeout time.Duration) bool {
	s.gateMu.Lock()
	ch := s.resumed
	s.gateMu.Unlock()

	select {
	case <-ch:
		return ctx.Err() == nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}

// TimestampOffset returns the seconds of audio already accounted for.
func (s *Stabilizer) TimestampOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Transcript returns a copy of the committed tail.
func (s *Stabilizer) Transcript() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segment(nil), s.transcript...)
}

// Provisional returns the current provisional segment, if any.
func (s *Stabilizer) Provisional() (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisional == nil {
		return Segment{}, false
	}
	return *s.provisional, true
}

// Snapshot returns a copy of the last published list.
func (s *Stabilizer) Snapshot() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segment(nil), s.published...)
}

// Language returns the pinned language. It is empty when none was configured
// and, with "auto", until detection confirmed one.
func (s *Stabilizer) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Run executes cycles until ctx is cancelled. Recognizer failures are logged
// and retried after RetryBackoff; they never stop the loop.
func (s *Stabilizer) Run(ctx context.Context) error {
	log.Info().Msg("recognition worker started")
	defer log.Info().Msg("recognition worker stopped")

	pending := true // audio may already be buffered
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !s.WaitResumed(ctx, s.cfg.ResumeTimeout) {
			continue
		}
		if !pending {
			select {
			case <-s.buf.Notify():
				pending = true
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.PollInterval):
				continue
			}
		}

		res, err := s.Step(ctx)
		s.metrics.Cycle(res.String())
		switch res {
		case StepPaused:
		case StepError:
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("recognition cycle failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.RetryBackoff):
			}
		default:
			pending = false
			if err != nil {
				log.Warn().Err(err).Msg("transcript subscriber failed")
			}
		}
	}
}

// Step runs a single recognition cycle. For StepError the error comes from
// the recognizer; for StepSilence and StepPublished a non-nil error means a
// subscriber failed while the snapshot was delivered.
func (s *Stabilizer) Step(ctx context.Context) (StepResult, error) {
	if s.State() == Paused {
		return StepPaused, nil
	}

	// Audio trimmed off the buffer head can no longer be recognized, so the
	// offset never trails the buffer.
	s.mu.Lock()
	if head := s.buf.Offset(); s.offset < head {
		s.offset = head
	}
	offset := s.offset
	s.mu.Unlock()

	if clipped := s.buf.ClipIfStale(offset); clipped != offset {
		log.Warn().
			Float64("from", offset).
			Float64("to", clipped).
			Msg("no valid segment for too long, skipping stale audio")
		s.metrics.StaleClip()
		offset = clipped
		s.mu.Lock()
		s.offset = clipped
		s.mu.Unlock()
	}

	samples, duration := s.buf.WindowForProcessing(offset)
	if duration < s.cfg.MinWindowSeconds {
		return StepIdle, nil
	}

	start := time.Now()
	res, err := s.rec.Transcribe(ctx, samples)
	s.metrics.Recognized(time.Since(start).Seconds(), duration, err)
	if err != nil {
		return StepError, fmt.Errorf("recognize %.2fs window at %.2fs: %w", duration, offset, err)
	}
	if !s.confirmLanguage(res) {
		return StepLanguagePending, nil
	}

	candidates := make([]whisper.Candidate, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if !c.Valid() {
			s.metrics.Dropped("malformed")
			log.Debug().Interface("candidate", c).Msg("dropping malformed candidate")
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return StepSilence, s.publish(s.silence())
	}
	s.silenceStart = time.Time{}
	return StepPublished, s.publish(s.reconcile(candidates, duration))
}

func (s *Stabilizer) confirmLanguage(res whisper.Result) bool {
	if s.langDone || res.Language == "" {
		return true
	}
	if res.LanguageProb <= s.cfg.LanguageConfirmProb {
		log.Debug().Str("lang", res.Language).Float64("prob", res.LanguageProb).Msg("waiting for language detection")
		return false
	}
	s.langDone = true
	s.mu.Lock()
	s.language = res.Language
	s.mu.Unlock()
	if ls, ok := s.rec.(whisper.LanguageSetter); ok {
		ls.SetLanguage(res.Language)
	}
	log.Info().Str("language", res.Language).Float64("probability", res.LanguageProb).Msg("detected language")
	return true
}

// silence returns the list to publish for a cycle without speech: the
// previous snapshot for ShowPrevOutThresh, then the committed tail only.
func (s *Stabilizer) silence() []Segment {
	now := s.now()
	if s.silenceStart.IsZero() {
		s.silenceStart = now
	}
	elapsed := now.Sub(s.silenceStart)

	if n := len(s.history); n > 0 && s.history[n-1] != "" && elapsed > s.cfg.AddPauseThresh {
		s.remember("")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if elapsed < s.cfg.ShowPrevOutThresh {
		return append([]Segment(nil), s.published...)
	}
	s.provisional = nil
	return append([]Segment(nil), s.transcript...)
}

// reconcile folds one non-empty recognizer result into the transcript and
// returns the list to publish.
func (s *Stabilizer) reconcile(candidates []whisper.Candidate, duration float64) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	advance := -1.0
	for _, c := range candidates[:len(candidates)-1] {
		s.remember(c.Text)
		end := math.Min(duration, c.End)
		if c.Start >= end {
			s.metrics.Dropped("zero_length")
			continue
		}
		if c.NoSpeechProb > s.cfg.NoSpeechThresh {
			s.metrics.Dropped("no_speech")
			continue
		}
		s.commit(Segment{Start: s.offset + c.Start, End: s.offset + end, Text: c.Text})
		advance = math.Max(advance, end)
	}

	last := candidates[len(candidates)-1]
	current := last.Text
	s.provisional = nil
	if end := math.Min(duration, last.End); last.Start < end {
		s.provisional = &Segment{Start: s.offset + last.Start, End: s.offset + end, Text: current}
	} else {
		s.metrics.Dropped("zero_length")
		current = ""
	}

	if current != "" && normalize(current) == normalize(s.prevText) {
		s.stability++
	} else {
		s.stability = 0
	}

	if current != "" && s.stability >= s.cfg.StabilityThreshold {
		if n := len(s.history); n == 0 || normalize(s.history[n-1]) != normalize(current) {
			s.remember(current)
			s.commit(Segment{Start: s.offset, End: s.offset + duration, Text: current})
		}
		log.Debug().Str("text", current).Int("cycles", s.stability).Msg("provisional text stabilized")
		s.provisional = nil
		s.stability = 0
		advance = duration
	} else {
		s.prevText = current
	}

	if advance > 0 {
		s.offset += advance
	}

	out := make([]Segment, 0, len(s.transcript)+1)
	out = append(out, s.transcript...)
	if s.provisional != nil {
		out = append(out, *s.provisional)
	}
	return out
}

// commit appends seg to the transcript, clamped so it never overlaps the
// previous committed segment. Callers hold s.mu.
func (s *Stabilizer) commit(seg Segment) {
	if n := len(s.transcript); n > 0 && seg.Start < s.transcript[n-1].End {
		seg.Start = s.transcript[n-1].End
	}
	if seg.Start >= seg.End {
		s.metrics.Dropped("overlap")
		return
	}
	s.transcript = append(s.transcript, seg)
	if over := len(s.transcript) - s.cfg.SendLastNSegments; over > 0 {
		s.transcript = append(s.transcript[:0], s.transcript[over:]...)
	}
	s.metrics.Committed()
	log.Debug().Float64("start", seg.Start).Float64("end", seg.End).Str("text", seg.Text).Msg("segment committed")
}

func (s *Stabilizer) remember(text string) {
	s.history = append(s.history, text)
	if over := len(s.history) - historyLimit; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Stabilizer) publish(segs []Segment) error {
	s.mu.Lock()
	s.published = append([]Segment(nil), segs...)
	s.mu.Unlock()

	err := s.bus.Publish(eventbus.TranscriptUpdated, segs)
	s.metrics.Published(err)
	return err
}
