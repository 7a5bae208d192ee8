// Package stream broadcasts captured PCM to websocket listeners and serves
// the service health document.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/health"
	"github.com/breeze-rmm/loopback/internal/logging"
	"github.com/breeze-rmm/loopback/internal/sink"
)

var log = logging.L("stream")

const (
	DefaultAddr        = ":7480"
	DefaultServiceName = "loopback"
	DefaultQueue       = 64

	// Encoding is the sample encoding of every binary frame.
	Encoding = "s16le"
)

// Config controls the server.
type Config struct {
	Addr string
	// Queue is the number of chunks buffered per client before the client
	// is considered too slow and dropped.
	Queue       int
	MDNS        bool
	ServiceName string
}

// Hello is the first (text) message on every connection. Binary frames of
// interleaved samples follow.
type Hello struct {
	Type         string `json:"type"`
	ClientID     string `json:"clientId"`
	ChannelCount int32  `json:"channelCount"`
	SampleRate   int32  `json:"sampleRate"`
	Encoding     string `json:"encoding"`
}

// HealthResponse is served on /health.
type HealthResponse struct {
	health.Snapshot
	Clients int             `json:"clients"`
	Process *health.Process `json:"process,omitempty"`
}

// Server is a sink.Sink that fans audio out to websocket clients. It never
// blocks the caller on a slow client.
type Server struct {
	cfg      Config
	monitor  *health.Monitor
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpServer *http.Server
	listener   net.Listener
	advert     *advertiser
	serveDone  chan struct{}

	mu      sync.RWMutex
	clients map[string]*client
	info    *capture.OutputInfo
	ended   bool
	buf     []byte
}

var _ sink.Sink = (*Server)(nil)

// New returns a server that is not yet listening. monitor may be nil.
func New(cfg Config, monitor *health.Monitor) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if monitor == nil {
		monitor = health.NewMonitor()
	}

	s := &Server{
		cfg:     cfg,
		monitor: monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Listeners are local tools, not browsers on other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		clients: make(map[string]*client),
	}
	s.mux.HandleFunc("/stream", s.handleStream)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Handler exposes the routes for embedding or testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Listen binds the configured address and serves in the background.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.monitor.Report(health.Stream, err, health.Unhealthy)
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveDone = make(chan struct{})

	go func() {
		defer close(s.serveDone)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("stream server stopped", logging.KeyError, err)
			s.monitor.Report(health.Stream, err, health.Unhealthy)
		}
	}()

	addr := ln.Addr().String()
	log.Info("stream server listening", "addr", addr)
	s.monitor.Update(health.Stream, health.Healthy, "listening on "+addr)

	if s.cfg.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := advertise(s.cfg.ServiceName, port)
		if err != nil {
			log.Warn("mdns advertisement failed", logging.KeyError, err)
		} else {
			s.advert = adv
		}
	}
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops advertising, disconnects every client and stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.advert != nil {
		s.advert.shutdown()
		s.advert = nil
	}
	s.disconnectAll("server shutting down")
	s.monitor.Remove(health.Stream)

	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	<-s.serveDone
	return err
}

// Start records the stream format and greets clients that connected early.
func (s *Server) Start(info capture.OutputInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = &info
	for id, c := range s.clients {
		if !c.enqueue(s.helloLocked(id)) {
			s.dropLocked(id, c)
		}
	}
	return nil
}

// Write queues samples for every client. Clients whose queue is full are
// disconnected. Write never fails.
func (s *Server) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}

	// Each client gets its own copy; writePump may still hold older frames.
	s.buf = sink.Encode(s.buf[:0], samples)
	for id, c := range s.clients {
		frame := make([]byte, len(s.buf))
		copy(frame, s.buf)
		if !c.enqueue(message{kind: websocket.BinaryMessage, data: frame}) {
			log.Warn("dropping slow stream client", logging.KeyClientID, id)
			s.dropLocked(id, c)
		}
	}
	return nil
}

// Close ends the stream for all clients. New connections are refused
// afterwards; the HTTP server keeps serving /health until Shutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.disconnectAll("stream ended")
	return nil
}

// Clients reports the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) disconnectAll(reason string) {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close(reason)
	}
}

func (s *Server) dropLocked(id string, c *client) {
	delete(s.clients, id)
	go c.close("too slow")
}

func (s *Server) helloLocked(id string) message {
	hello := Hello{
		Type:         "format",
		ClientID:     id,
		ChannelCount: s.info.ChannelCount,
		SampleRate:   s.info.SampleRate,
		Encoding:     Encoding,
	}
	data, _ := json.Marshal(hello)
	return message{kind: websocket.TextMessage, data: data}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ended := s.ended
	s.mu.RUnlock()
	if ended {
		http.Error(w, "stream ended", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", logging.KeyError, err)
		return
	}

	id := uuid.NewString()
	c := newClient(id, conn, s.cfg.Queue)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		c.close("stream ended")
		return
	}
	if s.info != nil {
		c.enqueue(s.helloLocked(id))
	}
	s.clients[id] = c
	s.mu.Unlock()

	log.Info("stream client connected", logging.KeyClientID, id, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	s.mu.Lock()
	if s.clients[id] == c {
		delete(s.clients, id)
	}
	s.mu.Unlock()
	c.close("")
	log.Info("stream client disconnected", logging.KeyClientID, id)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Snapshot: s.monitor.Snapshot(),
		Clients:  s.Clients(),
	}
	if p, err := health.CollectProcess(); err == nil {
		resp.Process = &p
	}

	code := http.StatusOK
	if resp.Status == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debug("health response write failed", logging.KeyError, err)
	}
}
