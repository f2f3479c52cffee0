package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, time.Second, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestGetConfig(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/rpc/config.get" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"tank":{"liters":{"low_threshold":10,"high_threshold":90}}}`)
	}))

	cfg, err := c.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	v, err := cfg.Lookup("tank.liters.high_threshold")
	if err != nil || v != float64(90) {
		t.Fatalf("lookup = %v, %v", v, err)
	}
}

func TestCallPostsJSON(t *testing.T) {
	var gotBody map[string]any
	var gotType string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"status":true}`)
	}))

	out, err := c.Call(context.Background(), "post", "/rpc/tank.setlimits", map[string]float64{"low_thr": 5, "high_thr": 95})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}
	if gotBody["low_thr"] != float64(5) || gotBody["high_thr"] != float64(95) {
		t.Fatalf("body = %v", gotBody)
	}
	if m, ok := out.(map[string]any); !ok || m["status"] != true {
		t.Fatalf("reply = %v", out)
	}
}

func TestCallStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"code":500,"message":"Invalid values"}}`)
	}))

	_, err := c.Call(context.Background(), http.MethodPost, "/rpc/pressure.setlimits", map[string]float64{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if se.Status != 500 || se.Message != "Invalid values" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestCallNonJSONReply(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	if _, err := c.Call(context.Background(), http.MethodPost, "/rpc/counter.start", map[string]any{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestResolve(t *testing.T) {
	c, err := NewClient("http://192.168.4.1/ui/", time.Second, nil, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	got, _ := c.Resolve("/rpc/tank.setlimits")
	if got != "http://192.168.4.1/rpc/tank.setlimits" {
		t.Fatalf("resolve = %q", got)
	}
	got, _ = c.Resolve("http://other/rpc/x")
	if got != "http://other/rpc/x" {
		t.Fatalf("resolve absolute = %q", got)
	}
}
