package whisper

import (
	"fmt"
	"strings"
)

// Options selects and configures a Recognizer backend.
type Options struct {
	Backend   string // whispercpp, openai or stub
	ModelPath string
	Threads   int
	Language  string
	OpenAI    OpenAIConfig
}

const (
	backendCPP    = "whispercpp"
	backendOpenAI = "openai"
	backendStub   = "stub"
)

// Backend maps a configured backend name, including its aliases, to the
// canonical name. ok is false for unknown names.
func Backend(name string) (canonical string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "whispercpp", "whisper_cpp", "cpp":
		return backendCPP, true
	case "openai":
		return backendOpenAI, true
	case "stub", "none":
		return backendStub, true
	}
	return "", false
}

func NewRecognizer(opts Options) (Recognizer, error) {
	backend, _ := Backend(opts.Backend)
	switch backend {
	case backendCPP:
		return NewCPPRecognizer(opts.ModelPath, opts.Threads, opts.Language)
	case backendOpenAI:
		cfg := opts.OpenAI
		if cfg.Language == "" {
			cfg.Language = opts.Language
		}
		return NewOpenAIRecognizer(cfg), nil
	case backendStub:
		return Stub{}, nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", opts.Backend)
	}
}
