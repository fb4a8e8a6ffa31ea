// Package server is the browser front end. It serves a chat page, drives one
// agent per websocket connection and exposes Prometheus metrics.
package server

import (
	"context"
	_ "embed"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/aida/agent"
	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Websocket message types.
const (
	TypeQuery           = "query"
	TypeApproval        = "approval"
	TypeApprovalRequest = "approval_request"
	TypeStep            = "step"
	TypeResponse        = "response"
	TypeError           = "error"
)

//go:embed index.html
var indexPage []byte

// Message is the single envelope used in both directions.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Approval requests and replies.
	ID         string `json:"id,omitempty"`
	Command    string `json:"command,omitempty"`
	Privileged bool   `json:"privileged,omitempty"`
	Action     string `json:"action,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
	Credential string `json:"credential,omitempty"`

	// Steps.
	Thought     string `json:"thought,omitempty"`
	Input       string `json:"input,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// Querier answers one query. *agent.Agent implements it.
type Querier interface {
	ProcessQuery(ctx context.Context, query string) string
}

// Factory builds the agent for a new connection. Approvals go through g and
// onStep receives every loop step. A Querier that is also an io.Closer is
// closed when the connection ends.
type Factory func(g gate.Gate, onStep func(agent.Step)) (Querier, error)

type Server struct {
	factory  Factory
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func New(factory Factory, opts ...Option) *Server {
	s := &Server{
		factory:  factory,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
		// Approvals travel over the socket, so the upgrader keeps its
		// same-origin check and pages from other sites cannot connect.
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes /, /ws and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexPage)
	})
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return s.serve(ctx, addr, s.Handler())
}

// ListenAndServeMetrics serves only /metrics on addr, for scrapers that
// should not reach the chat endpoint.
func (s *Server) ListenAndServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.serve(ctx, addr, mux)
}

func (s *Server) serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrapf(err, "server on %s failed", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrapf(err, "server shutdown failed")
	}
	s.logger.Info("server stopped", zap.String("addr", addr))
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws, logger: s.logger.With(zap.String("remote", r.RemoteAddr))}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Hijacked connections outlive Shutdown; unblock the reader ourselves.
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	c.gate = gate.NewRemote(func(ctx context.Context, p gate.Prompt) error {
		return c.write(Message{Type: TypeApprovalRequest, ID: p.ID, Command: p.Command, Privileged: p.Privileged})
	})
	q, err := s.factory(c.gate, func(st agent.Step) {
		c.write(Message{Type: TypeStep, Thought: st.Thought, Action: st.Action, Input: st.ActionInput, Observation: st.Observation})
	})
	if err != nil {
		c.logger.Error("failed to create agent", zap.Error(err))
		c.write(Message{Type: TypeError, Text: "Error processing query: " + err.Error()})
		return
	}
	if closer, ok := q.(io.Closer); ok {
		defer closer.Close()
	}

	c.logger.Info("client connected")
	c.serve(ctx, q)
	// Abandon any approval and wait for the running query before closing.
	cancel()
	c.wg.Wait()
	c.logger.Info("client disconnected")
}

type conn struct {
	ws     *websocket.Conn
	gate   *gate.Remote
	logger *zap.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	busy bool
	wg   sync.WaitGroup
}

func (c *conn) write(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(m); err != nil {
		c.logger.Debug("websocket write failed", zap.Error(err))
		return errors.Wrapf(err, "failed to write %s message", m.Type)
	}
	return nil
}

func (c *conn) serve(ctx context.Context, q Querier) {
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		switch m.Type {
		case TypeQuery:
			c.startQuery(ctx, q, m.Text)
		case TypeApproval:
			err := c.gate.Resolve(gate.Reply{
				ID:         m.ID,
				Action:     m.Action,
				Command:    m.Command,
				Feedback:   m.Feedback,
				Credential: m.Credential,
			})
			if err != nil {
				c.write(Message{Type: TypeError, ID: m.ID, Text: err.Error()})
			}
		default:
			c.write(Message{Type: TypeError, Text: "unknown message type " + m.Type})
		}
	}
}

// startQuery runs the query on a worker so approvals can still be read.
func (c *conn) startQuery(ctx context.Context, q Querier, text string) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		c.write(Message{Type: TypeError, Text: "a query is already running"})
		return
	}
	c.busy = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		answer := q.ProcessQuery(ctx, text)
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		c.write(Message{Type: TypeResponse, Text: answer})
	}()
}
