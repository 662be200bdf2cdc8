package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/obiente/translate/streamwhisper/internal/pipeline"
	"github.com/obiente/translate/streamwhisper/internal/source"
	"github.com/obiente/translate/streamwhisper/internal/transcript"
	"github.com/obiente/translate/streamwhisper/internal/whisper"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Addr string `yaml:"addr"`

	Recognizer    string `yaml:"recognizer"`
	ModelPath     string `yaml:"model_path"`
	Threads       int    `yaml:"threads"`
	Language      string `yaml:"language"`
	OpenAIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	Source        string `yaml:"source"`
	SourceCommand string `yaml:"source_command"`
	SourceWAVPath string `yaml:"source_wav_path"`
	// SourceWAVRealtime paces the wav source at playback speed.
	SourceWAVRealtime bool `yaml:"source_wav_realtime"`
	StreamURL     string `yaml:"stream_url"`
	RecordPath    string `yaml:"record_path"`

	SampleRate         int     `yaml:"sample_rate"`
	ChunkBytes         int     `yaml:"chunk_bytes"`
	MaxBufferSeconds   float64 `yaml:"max_buffer_seconds"`
	MinBufferSeconds   float64 `yaml:"min_buffer_seconds"`
	StabilityThreshold int     `yaml:"stability_threshold"`
	ShowPrevOutThresh  float64 `yaml:"show_prev_out_thresh"` // seconds
	AddPauseThresh     float64 `yaml:"add_pause_thresh"`     // seconds
	NoSpeechThresh     float64 `yaml:"no_speech_thresh"`
	SendLastNSegments  int     `yaml:"send_last_n_segments"`
	CaptionWords       int     `yaml:"caption_words"`

	TranslationBaseURL    string   `yaml:"translation_base_url"`
	TranslationEnabled    bool     `yaml:"translations"`
	TranslationTimeoutSec int      `yaml:"translation_timeout"`
	TranslationTargets    []string `yaml:"translation_targets"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "0", "false", "no", "off", "False", "FALSE":
			return false
		default:
			return true
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-integer setting")
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-numeric setting")
	}
	return def
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Default returns the built-in settings.
func Default() Config {
	tc := transcript.DefaultConfig()
	return Config{
		Addr:                  ":8080",
		Recognizer:            "whispercpp",
		ModelPath:             "./models/ggml-base.en.bin",
		Threads:               4,
		Language:              "auto",
		OpenAIModel:           "whisper-1",
		Source:                "command",
		SourceWAVRealtime:     true,
		SampleRate:            tc.SampleRate,
		ChunkBytes:            pipeline.DefaultChunkBytes,
		MaxBufferSeconds:      tc.MaxBufferSeconds,
		MinBufferSeconds:      tc.MinBufferSeconds,
		StabilityThreshold:    tc.StabilityThreshold,
		ShowPrevOutThresh:     tc.ShowPrevOutThresh.Seconds(),
		AddPauseThresh:        tc.AddPauseThresh.Seconds(),
		NoSpeechThresh:        tc.NoSpeechThresh,
		SendLastNSegments:     tc.SendLastNSegments,
		CaptionWords:          250,
		TranslationBaseURL:    "https://libretranslate.obiente.cloud",
		TranslationEnabled:    false,
		TranslationTimeoutSec: 8,
	}
}

// Load reads .env (if present), then the YAML file named by
// STREAMWHISPER_CONFIG (if set), then the environment. Later layers win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	cfg := Default()
	if path := os.Getenv("STREAMWHISPER_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
		log.Info().Str("path", path).Msg("loaded config file")
	}
	cfg.overlayEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Addr = getenv("STREAMWHISPER_ADDR", c.Addr)
	c.Recognizer = getenv("RECOGNIZER", c.Recognizer)
	c.ModelPath = getenv("WHISPER_MODEL_PATH", c.ModelPath)
	c.Threads = getenvInt("WHISPER_THREADS", c.Threads)
	c.Language = getenv("TRANSCRIBE_LANGUAGE", c.Language)
	c.OpenAIKey = getenv("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getenv("OPENAI_MODEL", c.OpenAIModel)

	c.Source = getenv("SOURCE", c.Source)
	c.SourceCommand = getenv("SOURCE_COMMAND", c.SourceCommand)
	c.SourceWAVPath = getenv("SOURCE_WAV_PATH", c.SourceWAVPath)
	c.SourceWAVRealtime = getenvBool("SOURCE_WAV_REALTIME", c.SourceWAVRealtime)
	c.StreamURL = getenv("STREAM_URL", c.StreamURL)
	c.RecordPath = getenv("AUDIO_RECORD_PATH", c.RecordPath)

	c.SampleRate = getenvInt("SAMPLE_RATE", c.SampleRate)
	c.ChunkBytes = getenvInt("CHUNK_BYTES", c.ChunkBytes)
	c.MaxBufferSeconds = getenvFloat("MAX_BUFFER_SECONDS", c.MaxBufferSeconds)
	c.MinBufferSeconds = getenvFloat("MIN_BUFFER_SECONDS", c.MinBufferSeconds)
	c.StabilityThreshold = getenvInt("STABILITY_THRESHOLD", c.StabilityThreshold)
	c.ShowPrevOutThresh = getenvFloat("SHOW_PREV_OUT_THRESH", c.ShowPrevOutThresh)
	c.AddPauseThresh = getenvFloat("ADD_PAUSE_THRESH", c.AddPauseThresh)
	c.NoSpeechThresh = getenvFloat("NO_SPEECH_THRESH", c.NoSpeechThresh)
	c.SendLastNSegments = getenvInt("SEND_LAST_N_SEGMENTS", c.SendLastNSegments)
	c.CaptionWords = getenvInt("CAPTION_WORDS", c.CaptionWords)

	c.TranslationBaseURL = getenv("TRANSLATION_BASE_URL", c.TranslationBaseURL)
	c.TranslationEnabled = getenvBool("WHISPER_SERVER_TRANSLATIONS", c.TranslationEnabled)
	c.TranslationTimeoutSec = getenvInt("TRANSLATION_TIMEOUT", c.TranslationTimeoutSec)
	c.TranslationTargets = getenvList("TRANSLATION_TARGETS", c.TranslationTargets)
}

// Transcript maps the settings onto the stabilizer configuration.
func (c Config) Transcript() transcript.Config {
	tc := transcript.DefaultConfig()
	tc.SampleRate = c.SampleRate
	tc.MaxBufferSeconds = c.MaxBufferSeconds
	tc.MinBufferSeconds = c.MinBufferSeconds
	tc.StabilityThreshold = c.StabilityThreshold
	tc.ShowPrevOutThresh = seconds(c.ShowPrevOutThresh)
	tc.AddPauseThresh = seconds(c.AddPauseThresh)
	tc.NoSpeechThresh = c.NoSpeechThresh
	tc.SendLastNSegments = c.SendLastNSegments
	tc.Language = c.Language
	if tc.StaleSeconds >= tc.MaxBufferSeconds {
		tc.StaleSeconds = 0
	}
	return tc
}

func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Transcript: c.Transcript(),
		ChunkBytes: c.ChunkBytes,
		RecordPath: c.RecordPath,
	}
}

func (c Config) Whisper() whisper.Options {
	return whisper.Options{
		Backend:   c.Recognizer,
		ModelPath: c.ModelPath,
		Threads:   c.Threads,
		Language:  c.Language,
		OpenAI: whisper.OpenAIConfig{
			APIKey:     c.OpenAIKey,
			BaseURL:    c.OpenAIBaseURL,
			Model:      c.OpenAIModel,
			Language:   c.Language,
			SampleRate: c.SampleRate,
		},
	}
}

// SourceLine returns the shell pipeline for the command source.
func (c Config) SourceLine() string {
	if c.SourceCommand != "" {
		return c.SourceCommand
	}
	if c.StreamURL != "" {
		return source.StreamCommand(c.StreamURL, c.SampleRate)
	}
	return ""
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate checks the settings that are not covered by the transcript
// configuration, and that one.
func (c Config) Validate() error {
	var errs []error
	switch c.Source {
	case "command":
		if c.SourceLine() == "" {
			errs = append(errs, errors.New("source command needs SOURCE_COMMAND or STREAM_URL"))
		}
	case "stdin":
	case "wav":
		if c.SourceWAVPath == "" {
			errs = append(errs, errors.New("wav source needs SOURCE_WAV_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	switch backend, ok := whisper.Backend(c.Recognizer); {
	case !ok:
		errs = append(errs, fmt.Errorf("unknown recognizer %q", c.Recognizer))
	case backend == "openai" && c.OpenAIKey == "" && c.OpenAIBaseURL == "":
		errs = append(errs, errors.New("openai recognizer needs OPENAI_API_KEY or OPENAI_BASE_URL"))
	}
	if c.ChunkBytes <= 0 {
		errs = append(errs, fmt.Errorf("chunk bytes must be positive, got %d", c.ChunkBytes))
	}
	if c.TranslationEnabled && c.TranslationBaseURL == "" {
		errs = append(errs, errors.New("translations need TRANSLATION_BASE_URL"))
	}
	if err := c.Transcript().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
