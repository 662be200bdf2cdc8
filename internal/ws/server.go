// Package ws serves the live transcript to websocket clients and accepts
// pause/resume control messages from them.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/streamwhisper/internal/eventbus"
	"github.com/obiente/translate/streamwhisper/internal/metrics"
	"github.com/obiente/translate/streamwhisper/internal/transcript"
	"github.com/obiente/translate/streamwhisper/internal/translation"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 32
	jobBuffer    = 64
)

// Committed exposes the committed transcript tail; the stabilizer satisfies it.
type Committed interface {
	Transcript() []transcript.Segment
}

type Options struct {
	CaptionWords int
	// Committed enables translations of newly committed segments when
	// Translator and Targets are also set.
	Committed  Committed
	Translator *translation.Client
	Targets    []string
	Metrics    *metrics.Metrics
}

// Server fans transcript snapshots out to every connected client.
type Server struct {
	bus      *eventbus.Bus
	opts     Options
	upgrader websocket.Upgrader
	subID    eventbus.SubscriptionID

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    []byte // latest transcript message, replayed to new clients
	seq     int

	jobs       chan transcript.Segment
	translated float64 // end of the last segment queued for translation
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func NewServer(bus *eventbus.Bus, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		bus:  bus,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 16,
		},
		clients: make(map[*client]struct{}),
		cancel:  cancel,
	}
	if s.translating() {
		s.jobs = make(chan transcript.Segment, jobBuffer)
		s.wg.Add(1)
		go s.translateLoop(ctx)
	}
	s.subID = bus.SubscribeAsync(eventbus.TranscriptUpdated, s.onTranscript)
	return s
}

func (s *Server) translating() bool {
	return s.opts.Committed != nil && s.opts.Translator != nil && len(s.opts.Targets) > 0
}

// Close unsubscribes from the bus, stops translations and disconnects clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.bus.Unsubscribe(eventbus.TranscriptUpdated, s.subID)
		s.cancel()
		s.wg.Wait()
		s.mu.Lock()
		for c := range s.clients {
			c.close()
		}
		s.mu.Unlock()
	})
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) onTranscript(ev eventbus.Event) {
	segs, ok := transcript.SegmentsFrom(ev)
	if !ok {
		log.Warn().Str("kind", ev.Kind.String()).Msg("ws: unexpected transcript payload")
		return
	}

	s.mu.Lock()
	s.seq++
	msg, err := json.Marshal(map[string]any{
		"type":     "transcript",
		"sequence": s.seq,
		"segments": segs,
		"captions": transcript.Captions(segs, s.opts.CaptionWords),
	})
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("ws: encode transcript")
		return
	}
	s.last = msg
	s.mu.Unlock()

	s.broadcast(msg)
	if s.translating() {
		s.queueTranslations()
	}
}

func (s *Server) queueTranslations() {
	for _, seg := range s.opts.Committed.Transcript() {
		if seg.End <= s.translated {
			continue
		}
		select {
		case s.jobs <- seg:
			s.translated = seg.End
		default:
			log.Warn().Float64("start", seg.Start).Msg("ws: translation queue full, skipping segment")
			s.translated = seg.End
		}
	}
}

func (s *Server) translateLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-s.jobs:
			tctx, cancel := context.WithTimeout(ctx, s.opts.Translator.Timeout())
			m, err := s.opts.Translator.Translate(tctx, seg.Text, "", s.opts.Targets, 0)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("text", seg.Text).Msg("ws: translation request failed")
				continue
			}
			if len(m) == 0 {
				continue
			}
			msg, err := json.Marshal(map[string]any{
				"type":         "translation",
				"segment":      seg,
				"translations": m,
			})
			if err != nil {
				log.Error().Err(err).Msg("ws: encode translation")
				continue
			}
			s.broadcast(msg)
		}
	}
}

// broadcast queues msg for every client. Clients whose queue is full miss it;
// the next snapshot replaces it anyway.
func (s *Server) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			log.Debug().Str("client", c.id).Msg("ws: client slow, dropping message")
		}
	}
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	if s.last != nil {
		c.send <- s.last
	}
	s.mu.Unlock()
	s.opts.Metrics.ClientConnected(1)
	log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("ws client connected")

	go s.writeLoop(c)
	s.readLoop(c)

	c.close()
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.opts.Metrics.ClientConnected(-1)
	log.Info().Str("client", c.id).Msg("ws client disconnected")
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Str("client", c.id).Msg("ws write failed")
				c.close()
				return
			}
		}
	}
}

func (s *Server) reply(c *client, payload map[string]any) {
	msg, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (s *Server) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(readTimeout)) })

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				select {
				case <-c.done:
				default:
					log.Warn().Err(err).Str("client", c.id).Msg("ws read error")
				}
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(c, map[string]any{"type": "error", "detail": "invalid json"})
			continue
		}
		switch msg["type"] {
		case "ping":
			s.reply(c, map[string]any{"type": "pong", "ts": msg["ts"]})
		case "pause":
			s.control(c, eventbus.PauseTranscription, "paused")
		case "resume":
			s.control(c, eventbus.ResumeTranscription, "resumed")
		default:
			s.reply(c, map[string]any{"type": "error", "detail": "unknown message type"})
		}
	}
}

func (s *Server) control(c *client, kind eventbus.Kind, ack string) {
	log.Info().Str("client", c.id).Str("event", kind.String()).Msg("ws control message")
	if err := s.bus.Publish(kind, nil); err != nil {
		log.Warn().Err(err).Str("event", kind.String()).Msg("ws control publish failed")
		s.reply(c, map[string]any{"type": "error", "detail": err.Error()})
		return
	}
	s.reply(c, map[string]any{"type": ack})
}
