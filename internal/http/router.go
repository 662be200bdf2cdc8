package http

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obiente/translate/streamwhisper/internal/transcript"
)

// Snapshotter is the read side of the stabilizer.
type Snapshotter interface {
	Snapshot() []transcript.Segment
	TimestampOffset() float64
	State() transcript.State
	Language() string
}

type Deps struct {
	Transcript   Snapshotter
	WS           http.HandlerFunc
	Gatherer     prometheus.Gatherer
	CaptionWords int
}

func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if d.Transcript != nil {
		mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
			segs := d.Transcript.Snapshot()
			if segs == nil {
				segs = []transcript.Segment{}
			}
			writeJSON(w, map[string]any{
				"segments": segs,
				"captions": transcript.Captions(segs, d.CaptionWords),
				"offset":   d.Transcript.TimestampOffset(),
				"state":    d.Transcript.State().String(),
				"language": d.Transcript.Language(),
			})
		})
	}
	// Live transcript WebSocket
	if d.WS != nil {
		mux.HandleFunc("/ws/transcript", d.WS)
	}
	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
