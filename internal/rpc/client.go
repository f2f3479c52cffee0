// Package rpc talks to the device's JSON RPC endpoints over HTTP.
package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tankview/internal/model"
)

const ConfigGetPath = "/rpc/config.get"

// StatusError is returned when the device answers with a non-2xx status.
type StatusError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Message)
}

type Client struct {
	base       *url.URL
	http       *http.Client
	logger     *slog.Logger
	configPath string
}

func NewClient(baseURL string, timeout time.Duration, tlsCfg *tls.Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse device url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if tlsCfg != nil {
		hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, http: hc, logger: logger, configPath: ConfigGetPath}, nil
}

// WithConfigPath overrides the config.get endpoint path.
func (c *Client) WithConfigPath(p string) *Client {
	if p != "" {
		c.configPath = p
	}
	return c
}

// Resolve turns a form action or path into an absolute device URL.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

// GetConfig fetches the full device configuration document.
func (c *Client) GetConfig(ctx context.Context) (*model.DeviceConfig, error) {
	var root map[string]any
	if err := c.do(ctx, http.MethodGet, c.configPath, nil, &root); err != nil {
		return nil, fmt.Errorf("load device config: %w", err)
	}
	return model.NewDeviceConfig(root), nil
}

// Call sends body as JSON to action and decodes the JSON reply.
func (c *Client) Call(ctx context.Context, method, action string, body any) (any, error) {
	if method == "" {
		method = http.MethodPost
	}
	var out any
	if err := c.do(ctx, strings.ToUpper(method), action, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, ref string, body any, out any) error {
	target, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", target, err)
	}
	c.logger.Debug("rpc call", "method", method, "url", target, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, URL: target, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", target, err)
	}
	return nil
}

// errorMessage extracts the device's {"error":{"message":...}} text.
func errorMessage(data []byte) string {
	var env struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
