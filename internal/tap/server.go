// Package tap streams lifecycle events from the event bus to websocket clients.
package tap

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"paperevents/internal/eventbus"
	logx "paperevents/pkg/logx"
)

const (
	writeWait   = 5 * time.Second
	readWait    = 60 * time.Second
	clientQueue = 256
)

// Hello is the first message sent on every connection.
type Hello struct {
	Type    string   `json:"type"`
	Session string   `json:"session"`
	Client  string   `json:"client"`
	Filter  []string `json:"filter,omitempty"`
}

type Server struct {
	bus     eventbus.Bus
	log     logx.Logger
	session string

	upgrader websocket.Upgrader
	clients  atomic.Int64
	pprof    bool
}

// NewServer returns a tap over bus. session identifies this daemon run to clients.
func NewServer(bus eventbus.Bus, session string, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		bus:     bus,
		log:     log,
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			// Only loopback clients are accepted, so any origin is fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// EnablePprof mounts net/http/pprof under /debug/pprof/. Call it before Handler.
func (s *Server) EnablePprof() { s.pprof = true }

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return int(s.clients.Load()) }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.serveEvents)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"session": s.session, "clients": s.Clients()})
	})
	if s.pprof {
		mux.HandleFunc("/debug/pprof/", loopbackOnly(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", loopbackOnly(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", loopbackOnly(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", loopbackOnly(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", loopbackOnly(hpprof.Trace))
	}
	return mux
}

// Run serves on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	s.log.Info("tap listening", logx.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveEvents(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	filter := parseFilter(r.URL.Query().Get("types"))

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := uuid.NewString()
	log := s.log.With(logx.String("client", client))
	s.clients.Add(1)
	defer s.clients.Add(-1)
	log.Debug("tap client connected", logx.String("remote", r.RemoteAddr))

	events, unsubscribe := s.bus.Subscribe(clientQueue)
	defer unsubscribe()

	hello := Hello{Type: "hello", Session: s.session, Client: client}
	for t := range filter {
		hello.Filter = append(hello.Filter, t)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	// Reader: clients send nothing useful, but reading surfaces closes and pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(readWait / 2)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			log.Debug("tap client gone")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if len(filter) > 0 {
				if _, want := filter[ev.Type]; !want {
					continue
				}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("tap write failed", logx.Err(err))
				return
			}
		}
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func parseFilter(raw string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

func isLoopbackRemote(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
