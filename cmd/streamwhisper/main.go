package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/obiente/translate/streamwhisper/internal/config"
	"github.com/obiente/translate/streamwhisper/internal/eventbus"
	serverhttp "github.com/obiente/translate/streamwhisper/internal/http"
	"github.com/obiente/translate/streamwhisper/internal/metrics"
	"github.com/obiente/translate/streamwhisper/internal/pipeline"
	"github.com/obiente/translate/streamwhisper/internal/source"
	"github.com/obiente/translate/streamwhisper/internal/translation"
	"github.com/obiente/translate/streamwhisper/internal/whisper"
	"github.com/obiente/translate/streamwhisper/internal/ws"
)

// drainTimeout bounds the wait for workers blocked in a source read that
// cannot be interrupted, such as stdin.
const drainTimeout = 5 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			lvl = l
		}
	}
	if os.Getenv("LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	log.Logger = log.Level(lvl)

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("streamwhisper failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	log.Info().Str("backend", cfg.Recognizer).Str("language", cfg.Language).Msg("loading recognizer")
	rec, err := whisper.NewRecognizer(cfg.Whisper())
	if err != nil {
		return fmt.Errorf("recognizer: %w", err)
	}
	defer rec.Close()

	src, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Close()

	p, err := pipeline.New(cfg.Pipeline(), src, rec, bus, pipeline.WithMetrics(m))
	if err != nil {
		_ = src.Close()
		return err
	}

	wsOpts := ws.Options{CaptionWords: cfg.CaptionWords, Metrics: m}
	if cfg.TranslationEnabled {
		wsOpts.Committed = p.Stabilizer()
		wsOpts.Translator = translation.New(cfg.TranslationBaseURL, cfg.TranslationTimeoutSec)
		wsOpts.Targets = cfg.TranslationTargets
	}
	wss := ws.NewServer(bus, wsOpts)
	defer wss.Close()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: serverhttp.NewRouter(serverhttp.Deps{
			Transcript:   p.Stabilizer(),
			WS:           wss.Handle,
			Gatherer:     reg,
			CaptionWords: cfg.CaptionWords,
		}),
		ReadTimeout: 30 * time.Second,
	}

	// Signals become a Shutdown event so every subscriber sees the same stop.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			log.Info().Str("signal", sig.String()).Msg("shutdown requested")
			if err := bus.Publish(eventbus.Shutdown, nil); err != nil {
				log.Error().Err(err).Msg("publish shutdown")
			}
		case <-ctx.Done():
		}
	}()

	shutdown := stopped(bus)
	if err := p.Start(ctx); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("streamwhisper server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = bus.Publish(eventbus.Shutdown, nil)
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), drainTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		done := make(chan error, 1)
		go func() { done <- p.Wait() }()
		select {
		case err := <-done:
			return err
		case <-shutdown:
			select {
			case err := <-done:
				return err
			case <-time.After(drainTimeout):
				log.Warn().Msg("workers did not stop in time, exiting anyway")
				return nil
			}
		}
	})
	err = g.Wait()
	if t := p.Stabilizer().Transcript(); len(t) > 0 {
		log.Info().Int("segments", len(t)).Float64("offset", p.Stabilizer().TimestampOffset()).Msg("final transcript")
	}
	return err
}

// stopped closes once a Shutdown event has been published.
func stopped(bus *eventbus.Bus) <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	bus.Subscribe(eventbus.Shutdown, func(eventbus.Event) error {
		once.Do(func() { close(ch) })
		return nil
	})
	return ch
}

func openSource(ctx context.Context, cfg config.Config) (source.Source, error) {
	switch cfg.Source {
	case "stdin":
		return source.Stdin(), nil
	case "wav":
		return source.OpenWAV(cfg.SourceWAVPath, cfg.SampleRate, cfg.SourceWAVRealtime)
	default:
		return source.NewCommand(ctx, cfg.SourceLine())
	}
}
