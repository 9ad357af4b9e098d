package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/assistant"
)

// Message is the websocket envelope in both directions. Clients send
// {"type":"query","query":{...}}; the server replies with "response",
// "status" or "error".
type Message struct {
	Type     string           `json:"type"`
	Content  string           `json:"content,omitempty"`
	Query    *models.Query    `json:"query,omitempty"`
	Response *models.Response `json:"response,omitempty"`
}

// Asker is the part of the assistant the server needs.
type Asker interface {
	Ask(ctx context.Context, q models.Query) models.Response
	Health() assistant.Health
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// MaxInFlight bounds the queries one connection may have running.
	MaxInFlight     int
	Logger          *slog.Logger
}

// WSServer serves queries from the game overlay over a websocket and
// reports index health over plain HTTP.
type WSServer struct {
	config    Config
	assistant Asker
	upgrader  websocket.Upgrader
	log       *slog.Logger
}

func NewWSServer(config Config, asker Asker) (*WSServer, error) {
	if asker == nil {
		return nil, fmt.Errorf("server: assistant is required")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &WSServer{
		config:    config,
		assistant: asker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the overlay runs locally and is not served from our origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger,
	}, nil
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting websocket server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WSServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.assistant.Health()
	w.Header().Set("Content-Type", "application/json")
	if h.Status != string(models.StatusOK) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.log.Warn("failed to write health", "error", err)
	}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws  *websocket.Conn
	id  string
	mu  sync.Mutex
	log *slog.Logger
}

func (c *conn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Debug("error sending message", "error", err)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, id: uuid.NewString()}
	c.log = s.log.With("conn", c.id)
	c.log.Info("client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	inFlight := make(chan struct{}, s.config.MaxInFlight)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		c.log.Info("client disconnected")
	}()

	c.send(Message{Type: "status", Content: c.id})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(Message{Type: "error", Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}
		if msg.Type != "query" || msg.Query == nil {
			c.send(Message{Type: "error", Content: fmt.Sprintf("unsupported message type %q", msg.Type)})
			continue
		}
		q := *msg.Query
		if strings.TrimSpace(q.SearchText()) == "" {
			c.send(Message{Type: "error", Content: "query has no text or game state"})
			continue
		}

		select {
		case inFlight <- struct{}{}:
		default:
			c.send(Message{Type: "error", Content: "too many queries in flight"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.assistant.Ask(ctx, q)
			<-inFlight
			c.send(Message{Type: "response", Response: &resp})
		}()
	}
}
