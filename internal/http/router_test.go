package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/translate/streamwhisper/internal/metrics"
	"github.com/obiente/translate/streamwhisper/internal/transcript"
)

type fakeTranscript struct{ segs []transcript.Segment }

func (f fakeTranscript) Snapshot() []transcript.Segment { return f.segs }
func (fakeTranscript) TimestampOffset() float64         { return 12.5 }
func (fakeTranscript) State() transcript.State          { return transcript.Paused }
func (fakeTranscript) Language() string                 { return "en" }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewRouter(Deps{}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestTranscriptEndpoint(t *testing.T) {
	h := NewRouter(Deps{
		Transcript:   fakeTranscript{segs: []transcript.Segment{{Start: 0, End: 1, Text: "one two three"}}},
		CaptionWords: 2,
	})
	rec := get(t, h, "/transcript")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Segments []transcript.Segment `json:"segments"`
		Captions string               `json:"captions"`
		Offset   float64              `json:"offset"`
		State    string               `json:"state"`
		Language string               `json:"language"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Segments, 1)
	assert.Equal(t, "two three", body.Captions)
	assert.Equal(t, 12.5, body.Offset)
	assert.Equal(t, "paused", body.State)
	assert.Equal(t, "en", body.Language)
}

func TestEmptyTranscriptIsAnArray(t *testing.T) {
	rec := get(t, NewRouter(Deps{Transcript: fakeTranscript{}}), "/transcript")
	assert.Contains(t, rec.Body.String(), `"segments":[]`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Committed()

	rec := get(t, NewRouter(Deps{Gatherer: reg}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streamwhisper_segments_committed_total 1")
}

func TestOptionalRoutesAreAbsent(t *testing.T) {
	h := NewRouter(Deps{})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/transcript").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/ws/transcript").Code)
}
