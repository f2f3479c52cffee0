// Package devicesim imitates the tank controller firmware: it pushes status
// and raw frames over WebSocket and answers the config and setlimits RPCs.
package devicesim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"tankview/internal/page"
)

const (
	EndpointStatus = "status"
	EndpointRaw    = "raw"

	writeWait = 2 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type Simulator struct {
	mu       sync.Mutex
	logger   *slog.Logger
	limits   Limits
	counting bool
	pulses   int
	now      func() time.Time
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
}

func New(logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		logger:   logger,
		limits:   DefaultLimits(),
		counting: true,
		now:      time.Now,
		clients: map[string]map[*client]struct{}{
			EndpointStatus: {},
			EndpointRaw:    {},
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Simulator) Limits() Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// Handler serves the page, the stream endpoints and the RPC endpoints.
func (s *Simulator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStream(EndpointStatus))
	r.Get("/raw", s.handleStream(EndpointRaw))
	r.Get("/rpc/config.get", s.handleConfigGet)
	r.Post("/rpc/{method}", s.handleRPC)
	return r
}

// Run broadcasts a fresh sample to every stream client each period.
func (s *Simulator) Run(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.DropClients()
			return nil
		case <-t.C:
			s.Broadcast()
		}
	}
}

// Broadcast pushes the current sample to all connected clients.
func (s *Simulator) Broadcast() {
	s.mu.Lock()
	if s.counting {
		s.pulses++
	}
	st := sample(s.now(), s.limits, s.pulses, s.counting)
	s.mu.Unlock()

	status, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("encode status frame failed", "error", err)
		return
	}
	raw, err := json.Marshal(Raw{
		Timestamp:        st.Timestamp,
		TankPressureADC:  st.TankPressureADC,
		CounterRawCount:  st.CounterRawCount,
		CounterFrequency: st.CounterFrequency,
	})
	if err != nil {
		s.logger.Error("encode raw frame failed", "error", err)
		return
	}
	s.publish(EndpointStatus, status)
	s.publish(EndpointRaw, raw)
}

// Publish sends an arbitrary frame to the clients of one endpoint.
func (s *Simulator) Publish(endpoint string, frame []byte) {
	s.publish(endpoint, frame)
}

func (s *Simulator) publish(endpoint string, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients[endpoint] {
		select {
		case c.send <- frame:
		default:
			s.logger.Warn("stream client too slow, dropping frame", "endpoint", endpoint)
		}
	}
}

// ClientCount reports the connected clients of one endpoint.
func (s *Simulator) ClientCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients[endpoint])
}

// DropClients disconnects every stream client, as a firmware reboot would.
func (s *Simulator) DropClients() {
	s.mu.Lock()
	var all []*client
	for _, set := range s.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	s.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

func (s *Simulator) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page.HTML())
}

func (s *Simulator) handleStream(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "endpoint", endpoint, "error", err)
			return
		}
		c := &client{conn: conn, send: make(chan []byte, 16), done: make(chan struct{})}
		s.mu.Lock()
		s.clients[endpoint][c] = struct{}{}
		s.mu.Unlock()
		s.logger.Info("stream client connected", "endpoint", endpoint, "remote", r.RemoteAddr)

		go s.writeLoop(c)
		// Reading is only needed to notice the peer going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		c.close()
		s.mu.Lock()
		delete(s.clients[endpoint], c)
		s.mu.Unlock()
		s.logger.Info("stream client disconnected", "endpoint", endpoint, "remote", r.RemoteAddr)
	}
}

func (s *Simulator) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Simulator) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Limits().ConfigDocument())
}

type limitsRequest struct {
	LowThr  *float64 `json:"low_thr"`
	HighThr *float64 `json:"high_thr"`
	FreqThr *float64 `json:"freq_thr"`
}

func (s *Simulator) handleRPC(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	var req limitsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Bad request. Expected JSON object")
			return
		}
	}

	switch method {
	case "tank.setlimits":
		if req.LowThr == nil || req.HighThr == nil {
			writeError(w, `Bad request. Expected {"low_thr":N, "high_thr":N}`)
			return
		}
		if err := validateTank(*req.LowThr, *req.HighThr); err != nil {
			writeError(w, capitalize(err.Error()))
			return
		}
		s.mu.Lock()
		s.limits.LitersLow, s.limits.LitersHigh = *req.LowThr, *req.HighThr
		s.mu.Unlock()
		s.logger.Info("tank limits saved", "low", *req.LowThr, "high", *req.HighThr)
	case "pressure.setlimits":
		if req.LowThr == nil || req.HighThr == nil {
			writeError(w, `Bad request. Expected {"low_thr":N, "high_thr":N}`)
			return
		}
		low, high := int(*req.LowThr), int(*req.HighThr)
		if err := validatePressure(low, high); err != nil {
			writeError(w, capitalize(err.Error()))
			return
		}
		s.mu.Lock()
		s.limits.PressureLow, s.limits.PressureHigh = low, high
		s.mu.Unlock()
		s.logger.Info("pressure limits saved", "low", low, "high", high)
	case "counter.setlimits":
		if req.FreqThr == nil {
			writeError(w, `Bad request. Expected {"freq_thr":N}`)
			return
		}
		thr := int(*req.FreqThr)
		if err := validateFrequency(thr); err != nil {
			writeError(w, fmt.Sprintf("Bad request. Expected freq_thr in [0..%d]", MaxFrequencyHz))
			return
		}
		s.mu.Lock()
		s.limits.FreqHigh = thr
		s.mu.Unlock()
		s.logger.Info("frequency limit saved", "freq_thr", thr)
	case "counter.start", "counter.stop":
		s.mu.Lock()
		s.counting = method == "counter.start"
		s.mu.Unlock()
	default:
		writeJSON(w, http.StatusNotFound, rpcError{Error: rpcErrorBody{Code: http.StatusNotFound, Message: "unknown method " + method}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcError struct {
	Error rpcErrorBody `json:"error"`
}

func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, rpcError{Error: rpcErrorBody{Code: http.StatusInternalServerError, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
