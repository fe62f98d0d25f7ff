package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BadgerOps/jobindex/internal/safety"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingEvery    = (wsPongWait * 9) / 10
	wsClientBuffer = 32
	wsMaxBackoff   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub fans published messages out to websocket subscribers. It is mounted
// as an http.Handler on the webhook server.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan *Message]struct{}
}

// NewHub creates a hub without subscribers
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[chan *Message]struct{}),
	}
}

// Publish sends msg to every connected subscriber. A subscriber that falls
// behind loses its oldest queued message.
func (h *Hub) Publish(_ context.Context, msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		h.logger.Warn("No scraper subscribed, event is lost", "event", msg.Event)
		return nil
	}
	for ch := range h.clients {
		pushDropOldest(ch, msg)
	}
	return nil
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() chan *Message {
	ch := make(chan *Message, wsClientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan *Message) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams messages as JSON frames
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.logger.Warn("websocket set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ch := h.register()
	defer h.unregister(ch)
	h.logger.Info("Scraper subscribed", "remote", r.RemoteAddr)

	// Subscribers never send data; reading only processes control frames
	// and notices a closed connection.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Scraper unsubscribed", "remote", r.RemoteAddr)
			return
		case msg := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("Failed to send event", "event", msg.Event, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func pushDropOldest(ch chan *Message, msg *Message) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// WebsocketSubscriber receives messages from a Hub. It reconnects with
// backoff until its context is cancelled.
type WebsocketSubscriber struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
	ch     chan *Message
}

// Dial connects to the hub at url (ws:// or wss://). The first connection
// must succeed; later disconnects are retried in the background.
func Dial(ctx context.Context, rawURL string, logger *slog.Logger) (*WebsocketSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported transport url scheme %q", u.Scheme)
	}
	if u.Scheme == "ws" && !safety.IsLocalEndpoint(u) {
		logger.Warn("Receiving events over an unencrypted connection", "url", rawURL)
	}

	s := &WebsocketSubscriber{
		url:    rawURL,
		dialer: websocket.DefaultDialer,
		logger: logger,
		ch:     make(chan *Message, wsClientBuffer),
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	go s.run(ctx, conn)
	return s, nil
}

func (s *WebsocketSubscriber) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}
	s.logger.Info("Subscribed to events", "url", s.url)
	return conn, nil
}

func (s *WebsocketSubscriber) run(ctx context.Context, conn *websocket.Conn) {
	backoff := time.Second
	for {
		s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		for {
			s.logger.Warn("Event connection lost, reconnecting", "url", s.url, "delay", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			var err error
			conn, err = s.connect(ctx)
			if err == nil {
				backoff = time.Second
				break
			}
			s.logger.Warn("Reconnect failed", "error", err)
			backoff = min(backoff*2, wsMaxBackoff)
		}
	}
}

func (s *WebsocketSubscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// Unblock ReadJSON on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("Event connection closed", "error", err)
			}
			return
		}
		select {
		case s.ch <- &msg:
		case <-ctx.Done():
			return
		}
	}
}

// Receive waits for the next message from the hub
func (s *WebsocketSubscriber) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
