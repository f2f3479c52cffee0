package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"

	"tankview/internal/config"
)

// Channel pairs a stream with the render context it feeds.
type Channel struct {
	Name string
	Conn *Conn
}

// NewChannelsFromConfig builds one reconnecting stream per configured channel.
// The streams are not started.
func NewChannelsFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) ([]Channel, error) {
	dialer := WebSocketDialer{
		Logger:       logger,
		ReadLimit:    cfg.WebSocketReadLimit,
		PingInterval: cfg.WebSocketPingInterval,
	}
	if tlsCfg != nil {
		dialer.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
	}

	out := make([]Channel, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		url, err := cfg.StreamURL(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		conn := NewConn(url,
			WithDialer(dialer),
			WithRetryDelay(cfg.RetryDelay),
			WithDialTimeout(cfg.DialTimeout),
			WithLogger(logger.With("channel", ch.Name)),
		)
		out = append(out, Channel{Name: ch.Name, Conn: conn})
	}
	return out, nil
}
