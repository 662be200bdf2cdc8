package transcript

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid transcription config")

// Config holds every tunable of the incremental transcription pipeline.
type Config struct {
	SampleRate int

	// Ring buffer bounds, in seconds of audio.
	MaxBufferSeconds float64
	MinBufferSeconds float64
	StaleSeconds     float64
	StaleKeepSeconds float64

	// MinWindowSeconds of unrecognized audio are required before a cycle
	// calls the recognizer.
	MinWindowSeconds float64

	// StabilityThreshold is the count of consecutive unchanged provisional
	// results needed to commit the provisional text.
	StabilityThreshold int
	ShowPrevOutThresh  time.Duration
	AddPauseThresh     time.Duration
	NoSpeechThresh     float64
	SendLastNSegments  int

	// Language pins the recognition language. "auto" waits for the recognizer
	// to report one with LanguageConfirmProb and pins it; empty never waits.
	Language            string
	LanguageConfirmProb float64

	RetryBackoff  time.Duration
	PollInterval  time.Duration
	ResumeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		MaxBufferSeconds:    35,
		MinBufferSeconds:    20,
		StaleSeconds:        25,
		StaleKeepSeconds:    5,
		MinWindowSeconds:    1.0,
		StabilityThreshold:  5,
		ShowPrevOutThresh:   5 * time.Second,
		AddPauseThresh:      3 * time.Second,
		NoSpeechThresh:      0.45,
		SendLastNSegments:   50,
		LanguageConfirmProb: 0.5,
		RetryBackoff:        10 * time.Millisecond,
		PollInterval:        100 * time.Millisecond,
		ResumeTimeout:       5 * time.Second,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.SampleRate > 0, "sample rate must be positive, got %d", c.SampleRate)
	check(c.MaxBufferSeconds > 0, "max buffer seconds must be positive, got %v", c.MaxBufferSeconds)
	check(c.MinBufferSeconds > 0 && c.MinBufferSeconds < c.MaxBufferSeconds,
		"min buffer seconds must be in (0, %v), got %v", c.MaxBufferSeconds, c.MinBufferSeconds)
	check(c.StaleSeconds == 0 || c.StaleSeconds > c.StaleKeepSeconds,
		"stale seconds (%v) must exceed stale keep seconds (%v)", c.StaleSeconds, c.StaleKeepSeconds)
	check(c.StaleKeepSeconds >= 0, "stale keep seconds must not be negative")
	check(c.MinWindowSeconds > 0, "min window seconds must be positive, got %v", c.MinWindowSeconds)
	check(c.StabilityThreshold >= 1, "stability threshold must be at least 1, got %d", c.StabilityThreshold)
	check(c.ShowPrevOutThresh >= 0, "show previous output threshold must not be negative")
	check(c.AddPauseThresh >= 0, "add pause threshold must not be negative")
	check(c.NoSpeechThresh >= 0 && c.NoSpeechThresh <= 1, "no speech threshold must be in [0, 1], got %v", c.NoSpeechThresh)
	check(c.SendLastNSegments >= 1, "send last n segments must be at least 1, got %d", c.SendLastNSegments)
	check(c.LanguageConfirmProb >= 0 && c.LanguageConfirmProb < 1, "language confirm probability must be in [0, 1), got %v", c.LanguageConfirmProb)
	check(c.RetryBackoff >= 0, "retry backoff must not be negative")
	check(c.PollInterval > 0, "poll interval must be positive")
	check(c.ResumeTimeout > 0, "resume timeout must be positive")
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
