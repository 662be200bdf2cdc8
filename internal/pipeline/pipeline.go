// Package pipeline wires a byte source, the ring buffer and the stabilizer
// into the two long-lived workers of a transcription run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/obiente/translate/streamwhisper/internal/audio"
	"github.com/obiente/translate/streamwhisper/internal/eventbus"
	"github.com/obiente/translate/streamwhisper/internal/metrics"
	"github.com/obiente/translate/streamwhisper/internal/source"
	"github.com/obiente/translate/streamwhisper/internal/transcript"
	"github.com/obiente/translate/streamwhisper/internal/whisper"
)

const DefaultChunkBytes = 8192

// Config configures a Pipeline.
type Config struct {
	Transcript transcript.Config
	ChunkBytes int
	// RecordPath, when set, tees every ingested sample to a WAV file.
	RecordPath string
}

type Option func(*Pipeline)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStabilizerOptions forwards options to the stabilizer.
func WithStabilizerOptions(opts ...transcript.Option) Option {
	return func(p *Pipeline) { p.stabOpts = append(p.stabOpts, opts...) }
}

// Pipeline owns one transcription run.
type Pipeline struct {
	id       string
	cfg      Config
	src      source.Source
	bus      *eventbus.Bus
	buf      *audio.RingBuffer
	stab     *transcript.Stabilizer
	metrics  *metrics.Metrics
	stabOpts []transcript.Option
	recorder *audio.Recorder
	logger   zerolog.Logger

	subs []subscription

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
}

type subscription struct {
	kind eventbus.Kind
	id   eventbus.SubscriptionID
}

func New(cfg Config, src source.Source, rec whisper.Recognizer, bus *eventbus.Bus, opts ...Option) (*Pipeline, error) {
	if src == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.ChunkBytes%2 != 0 {
		cfg.ChunkBytes++
	}
	tc := cfg.Transcript
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		id:  uuid.NewString(),
		cfg: cfg,
		src: src,
		bus: bus,
		buf: audio.NewRingBuffer(tc.SampleRate, tc.MaxBufferSeconds, tc.MinBufferSeconds),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.With().Str("run", p.id).Str("source", src.Name()).Logger()
	p.buf.SetStaleClip(tc.StaleSeconds, tc.StaleKeepSeconds)

	stabOpts := append([]transcript.Option{transcript.WithMetrics(p.metrics)}, p.stabOpts...)
	stab, err := transcript.NewStabilizer(tc, p.buf, rec, bus, stabOpts...)
	if err != nil {
		return nil, err
	}
	p.stab = stab

	p.subscribe(eventbus.PauseTranscription, func(eventbus.Event) error { p.stab.Pause(); return nil })
	p.subscribe(eventbus.ResumeTranscription, func(eventbus.Event) error { p.stab.Resume(); return nil })
	p.subscribe(eventbus.Shutdown, func(eventbus.Event) error { p.Stop(); return nil })
	return p, nil
}

func (p *Pipeline) subscribe(kind eventbus.Kind, fn eventbus.Handler) {
	p.subs = append(p.subs, subscription{kind: kind, id: p.bus.Subscribe(kind, fn)})
}

// ID identifies this run in logs.
func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) Stabilizer() *transcript.Stabilizer { return p.stab }

func (p *Pipeline) Buffer() *audio.RingBuffer { return p.buf }

// Start launches the ingest and recognition workers. It fails if the
// pipeline was already started.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipeline: already started")
	}
	if p.cfg.RecordPath != "" {
		r, err := audio.NewRecorder(p.cfg.RecordPath, p.cfg.Transcript.SampleRate)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		p.recorder = r
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	if p.stopped {
		p.cancel()
	}
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	g.Go(func() error { return p.ingest(gctx) })
	g.Go(func() error { return p.stab.Run(gctx) })

	p.logger.Info().
		Int("sample_rate", p.cfg.Transcript.SampleRate).
		Int("chunk_bytes", p.cfg.ChunkBytes).
		Str("record", p.cfg.RecordPath).
		Msg("pipeline started")
	return nil
}

// Stop cancels the workers and closes the source. It is idempotent and safe
// from any goroutine, including bus handlers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info().Msg("pipeline stopping")
	if cancel != nil {
		cancel()
	}
	if err := p.src.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("close source")
	}
}

// Wait blocks until both workers exit, then releases bus subscriptions and
// the recorder.
func (p *Pipeline) Wait() error {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return errors.New("pipeline: not started")
	}
	err := g.Wait()

	for _, s := range p.subs {
		p.bus.Unsubscribe(s.kind, s.id)
	}
	p.subs = nil
	if p.recorder != nil {
		if cerr := p.recorder.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		} else {
			p.logger.Info().Str("path", p.cfg.RecordPath).Float64("seconds", p.recorder.Seconds()).Msg("recording saved")
		}
	}
	p.logger.Info().Float64("offset", p.stab.TimestampOffset()).Msg("pipeline stopped")
	return err
}

func (p *Pipeline) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// ingest reads PCM16LE from the source until it is exhausted. Exhaustion
// without a stop request publishes Shutdown.
func (p *Pipeline) ingest(ctx context.Context) error {
	p.logger.Info().Msg("ingest worker started")
	defer p.logger.Info().Msg("ingest worker stopped")

	chunk := make([]byte, p.cfg.ChunkBytes)
	var carry []byte
	trims := p.buf.Trims()
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := p.src.Read(chunk)
		if n > 0 {
			data := append(carry, chunk[:n]...)
			even := len(data) &^ 1
			samples, derr := audio.DecodePCM16LE(data[:even])
			if derr != nil {
				return fmt.Errorf("ingest: %w", derr)
			}
			carry = append([]byte(nil), data[even:]...)

			p.buf.Append(samples)
			if p.recorder != nil {
				if werr := p.recorder.Write(samples); werr != nil {
					p.logger.Warn().Err(werr).Msg("recording write failed, disabling recorder")
					_ = p.recorder.Close()
					p.recorder = nil
				}
			}
			t := p.buf.Trims()
			p.metrics.Ingested(n, len(samples), p.buf.Duration(), p.buf.Offset(), t-trims)
			trims = t
		}
		if n == 0 || err != nil {
			if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil && !p.isStopped() {
				p.logger.Error().Err(err).Msg("source read failed")
			}
			return p.exhausted(ctx)
		}
	}
}

func (p *Pipeline) exhausted(ctx context.Context) error {
	if ctx.Err() != nil || p.isStopped() {
		return nil
	}
	p.logger.Warn().Msg("byte source exhausted, shutting down")
	if err := p.bus.Publish(eventbus.Shutdown, nil); err != nil {
		p.logger.Error().Err(err).Msg("publish shutdown")
	}
	// Without a Shutdown subscriber that stops us, stop anyway.
	p.Stop()
	return nil
}
