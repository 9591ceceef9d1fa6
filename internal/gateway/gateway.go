// Package gateway exposes queue change signals to browsers over sockjs and
// plain websockets. Clients subscribe per queue and re-fetch on every signal.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/realtime"
	"qms/queue-dashboard/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultMaxSubscriptions = 32
	lookupTimeout           = 5 * time.Second
)

var (
	sessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "qms",
		Name:      "realtime_sessions",
		Help:      "Connected realtime sessions by transport.",
	}, []string{"transport"})
	changesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qms",
		Name:      "realtime_changes_sent_total",
		Help:      "Change signals written to sessions.",
	}, []string{"table"})
)

// QueueLookup confirms a queue exists before a session subscribes to it.
type QueueLookup interface {
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
}

type Config struct {
	MaxSubscriptions int
	AllowedOrigins   []string
}

type Gateway struct {
	hub              *realtime.Hub
	queues           QueueLookup
	maxSubscriptions int
	upgrader         websocket.Upgrader
}

// New builds a gateway fed by hub. Without a lookup any well-formed queue ID is accepted.
func New(hub *realtime.Hub, queues QueueLookup, cfg Config) *Gateway {
	g := &Gateway{hub: hub, queues: queues, maxSubscriptions: cfg.MaxSubscriptions}
	if g.maxSubscriptions <= 0 {
		g.maxSubscriptions = defaultMaxSubscriptions
	}
	origins := cfg.AllowedOrigins
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(origins, r.Header.Get("Origin"))
		},
	}
	return g
}

// conn is what a session needs from its transport.
type conn interface {
	Recv() (string, error)
	Send(string) error
	Close(code uint32, reason string) error
}

func (g *Gateway) SockJSHandler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		// Polling transports outlive the request that opened the session.
		g.serve(context.Background(), "sockjs", session)
	})
}

func (g *Gateway) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		c := newWSConn(ws)
		defer c.Close(websocket.CloseNormalClosure, "")
		g.serve(r.Context(), "websocket", c)
	})
}

type session struct {
	conn conn
	subs map[string]*realtime.Subscription
}

func (g *Gateway) serve(ctx context.Context, transport string, c conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sessionsActive.WithLabelValues(transport).Inc()
	defer sessionsActive.WithLabelValues(transport).Dec()

	s := &session{conn: c, subs: make(map[string]*realtime.Subscription)}
	defer s.unsubscribeAll()

	for {
		raw, err := c.Recv()
		if err != nil {
			return
		}
		msg, ok := ParseSubscribe([]byte(raw))
		if !ok {
			s.write(errorEnvelope("", "unsupported message"))
			continue
		}
		switch msg.Action {
		case ActionSubscribe:
			g.subscribe(ctx, s, msg.QueueID)
		case ActionUnsubscribe:
			if msg.QueueID == "" {
				s.unsubscribeAll()
			} else {
				s.unsubscribe(msg.QueueID)
			}
			s.write(ackEnvelope("unsubscribed", msg.QueueID))
		}
	}
}

func (g *Gateway) subscribe(ctx context.Context, s *session, queueID string) {
	if _, ok := s.subs[queueID]; ok {
		s.write(ackEnvelope("subscribed", queueID))
		return
	}
	if len(s.subs) >= g.maxSubscriptions {
		s.write(errorEnvelope(queueID, "too many subscriptions"))
		return
	}
	if err := g.checkQueue(ctx, queueID); err != nil {
		s.write(errorEnvelope(queueID, err.Error()))
		return
	}
	sub, err := g.hub.Subscribe(ctx, queueID)
	if err != nil {
		log.Printf("realtime subscribe error queue=%s: %v", queueID, err)
		s.write(errorEnvelope(queueID, "subscribe failed"))
		return
	}
	s.subs[queueID] = sub
	s.write(ackEnvelope("subscribed", queueID))
	go s.forward(sub)
}

func (g *Gateway) checkQueue(ctx context.Context, queueID string) error {
	if _, err := uuid.Parse(queueID); err != nil {
		return store.ErrQueueNotFound
	}
	if g.queues == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	_, err := g.queues.GetQueue(ctx, queueID)
	if err != nil && !errors.Is(err, store.ErrQueueNotFound) {
		log.Printf("realtime queue lookup error queue=%s: %v", queueID, err)
		return errors.New("queue lookup failed")
	}
	return err
}

func (s *session) forward(sub *realtime.Subscription) {
	for change := range sub.C {
		if !s.write(changeEnvelope(change)) {
			sub.Close()
			return
		}
		changesSent.WithLabelValues(change.Table).Inc()
	}
}

func (s *session) write(msg envelope) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return s.conn.Send(string(payload)) == nil
}

func (s *session) unsubscribe(queueID string) {
	if sub, ok := s.subs[queueID]; ok {
		sub.Close()
		delete(s.subs, queueID)
	}
}

func (s *session) unsubscribeAll() {
	for queueID := range s.subs {
		s.unsubscribe(queueID)
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, item := range allowed {
		if item == "*" || item == origin {
			return true
		}
	}
	return false
}
