package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is one translation of a text into a target language.
type Result struct {
	Primary          string   `json:"primary"`
	Alternatives     []string `json:"alternatives,omitempty"`
	DetectedLanguage string   `json:"detectedLanguage,omitempty"`
}

type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func New(base string, timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 8
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		timeout: time.Duration(timeoutSec) * time.Second,
	}
}

// Timeout is the per-request budget the client was built with.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Translate requests translations for text into targets.
// It calls the translation endpoint once per target using the LibreTranslate
// compatible payload (q, source, target, format, alternatives).
func (c *Client) Translate(ctx context.Context, text string, source string, targets []string, altLimit int) (map[string]Result, error) {
	if c == nil || c.base == "" || len(targets) == 0 || strings.TrimSpace(text) == "" {
		return map[string]Result{}, nil
	}

	src := strings.TrimSpace(source)
	if src == "" {
		src = "auto"
	}

	out := make(map[string]Result, len(targets))
	for _, tgt := range targets {
		r, err := c.translateOne(ctx, text, src, tgt, altLimit)
		if err != nil {
			return nil, err
		}
		out[tgt] = r
	}
	return out, nil
}

func (c *Client) translateOne(ctx context.Context, text, src, tgt string, altLimit int) (Result, error) {
	payload := map[string]any{
		"q":      text,
		"source": src,
		"target": tgt,
		"format": "text",
	}
	if altLimit > 0 {
		payload["alternatives"] = altLimit
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("translate to %s: %w", tgt, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("translation http %d for target %s", resp.StatusCode, tgt)
	}

	// LibreTranslate response: translatedText, alternatives, detectedLanguage
	var lr struct {
		TranslatedText   string   `json:"translatedText"`
		Alternatives     []string `json:"alternatives"`
		DetectedLanguage struct {
			Language string `json:"language"`
		} `json:"detectedLanguage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Result{}, fmt.Errorf("decode translation for %s: %w", tgt, err)
	}

	r := Result{
		Primary:          strings.TrimSpace(lr.TranslatedText),
		DetectedLanguage: lr.DetectedLanguage.Language,
	}
	for _, a := range lr.Alternatives {
		if s := strings.TrimSpace(a); s != "" {
			r.Alternatives = append(r.Alternatives, s)
		}
	}
	return r, nil
}
