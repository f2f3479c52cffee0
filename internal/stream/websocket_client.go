package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// Transport is one live stream connection.
type Transport interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer opens telemetry streams over WebSocket.
type WebSocketDialer struct {
	Logger       *slog.Logger
	HTTPClient   *http.Client
	ReadLimit    int64
	PingInterval time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	opt := &websocket.DialOptions{HTTPClient: d.HTTPClient}
	conn, _, err := websocket.Dial(ctx, url, opt)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	conn.SetReadLimit(limit)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &wsTransport{conn: conn, url: url, logger: logger}
	t.startPingLoop(d.PingInterval)
	return t, nil
}

type wsTransport struct {
	conn       *websocket.Conn
	url        string
	logger     *slog.Logger
	pingCancel context.CancelFunc
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("websocket closed by peer (%d): %w", status, err)
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	if t.pingCancel != nil {
		t.pingCancel()
	}
	return t.conn.Close(websocket.StatusNormalClosure, "disconnect")
}

// startPingLoop keeps idle links alive and tears the connection down when a
// ping goes unanswered, which turns a silent link loss into a read error.
func (t *wsTransport) startPingLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.pingCancel = cancel
	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
				err := t.conn.Ping(pingCtx)
				pingCancel()
				if err != nil && ctx.Err() == nil {
					t.logger.Warn("websocket ping failed, closing", "url", t.url, "error", err)
					_ = t.conn.Close(websocket.StatusGoingAway, "ping timeout")
					return
				}
			}
		}
	}()
}
