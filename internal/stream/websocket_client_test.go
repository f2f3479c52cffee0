package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"tankview/internal/model"
)

func TestWebSocketStreamEndToEnd(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := accepted.Add(1)
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{broken"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"timestamp": 1700000000, "tank_status": "normal"}`))
		if n == 1 {
			// Drop the first client to exercise the reconnect path.
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status"
	c := NewConn(url,
		WithRetryDelay(20*time.Millisecond),
		WithLogger(discardLogger()),
		WithDialer(WebSocketDialer{Logger: discardLogger(), PingInterval: time.Second}),
	)

	msgs := make(chan model.TelemetryRecord, 8)
	c.Subscribe(EventMessage, func(ev Event) { msgs <- ev.Record })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case rec := <-msgs:
			if rec["tank_status"] != "normal" {
				t.Fatalf("record = %v", rec)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	if accepted.Load() < 2 {
		t.Fatalf("accepted = %d, want a reconnect", accepted.Load())
	}
	waitFor(t, "connected", func() bool { return c.State() == model.StateConnected })

	c.Disconnect()
	if c.State() != model.StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}
