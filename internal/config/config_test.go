package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithStreamURL(t *testing.T) {
	t.Setenv("STREAM_URL", "https://twitch.tv/example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "command", cfg.Source)
	assert.Contains(t, cfg.SourceLine(), "streamlink")
	assert.Contains(t, cfg.SourceLine(), "-ar 16000")

	tc := cfg.Transcript()
	assert.Equal(t, 5, tc.StabilityThreshold)
	assert.Equal(t, 5*time.Second, tc.ShowPrevOutThresh)
	assert.Equal(t, 3*time.Second, tc.AddPauseThresh)
	assert.Equal(t, "auto", tc.Language)
	assert.NoError(t, tc.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamwhisper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
source: wav
source_wav_path: /tmp/in.wav
stability_threshold: 3
show_prev_out_thresh: 2.5
translation_targets: [de, fr]
`), 0o644))
	t.Setenv("STREAMWHISPER_CONFIG", path)
	t.Setenv("STABILITY_THRESHOLD", "7")
	t.Setenv("TRANSLATION_TARGETS", "es, it ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "wav", cfg.Source)
	assert.Equal(t, 7, cfg.StabilityThreshold)
	assert.Equal(t, 2500*time.Millisecond, cfg.Transcript().ShowPrevOutThresh)
	assert.Equal(t, []string{"es", "it"}, cfg.TranslationTargets)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o644))
	t.Setenv("STREAMWHISPER_CONFIG", path)

	_, err := Load()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalid, "command source without a command")

	cfg.Source = "stdin"
	assert.NoError(t, cfg.Validate())

	cfg.Recognizer = "openai"
	assert.ErrorContains(t, cfg.Validate(), "OPENAI_API_KEY")
	cfg.OpenAIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg.Source = "carrier-pigeon"
	cfg.MinBufferSeconds = cfg.MaxBufferSeconds + 1
	err = cfg.Validate()
	assert.ErrorContains(t, err, "unknown source")
	assert.ErrorContains(t, err, "min buffer seconds")
}

func TestValidateAcceptsRecognizerAliases(t *testing.T) {
	cfg := Default()
	cfg.Source = "stdin"
	for _, name := range []string{"", "whispercpp", "whisper_cpp", "cpp", "stub", "none", " Stub "} {
		cfg.Recognizer = name
		assert.NoError(t, cfg.Validate(), name)
	}
	cfg.Recognizer = "whisper-large"
	assert.ErrorContains(t, cfg.Validate(), "unknown recognizer")
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("SW_TEST_BOOL", "off")
	t.Setenv("SW_TEST_INT", "nope")
	t.Setenv("SW_TEST_FLOAT", "0.25")

	assert.False(t, getenvBool("SW_TEST_BOOL", true))
	assert.True(t, getenvBool("SW_TEST_UNSET", true))
	assert.Equal(t, 3, getenvInt("SW_TEST_INT", 3))
	assert.Equal(t, 0.25, getenvFloat("SW_TEST_FLOAT", 1))
}

func TestWhisperOptions(t *testing.T) {
	cfg := Default()
	cfg.Recognizer = "openai"
	cfg.OpenAIBaseURL = "http://localhost:8000/v1"
	opts := cfg.Whisper()
	assert.Equal(t, "openai", opts.Backend)
	assert.Equal(t, "http://localhost:8000/v1", opts.OpenAI.BaseURL)
	assert.Equal(t, 16000, opts.OpenAI.SampleRate)
}

func TestStaleClipDisabledForSmallBuffers(t *testing.T) {
	cfg := Default()
	cfg.MaxBufferSeconds = 10
	cfg.MinBufferSeconds = 5
	tc := cfg.Transcript()
	assert.Zero(t, tc.StaleSeconds)
	assert.NoError(t, tc.Validate())
}
