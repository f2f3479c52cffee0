// Package console wires the page document, the telemetry streams, the config
// binder and the viewer server into one running operator console.
package console

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"tankview/internal/config"
	"tankview/internal/dom"
	"tankview/internal/forms"
	"tankview/internal/model"
	"tankview/internal/page"
	"tankview/internal/render"
	"tankview/internal/rpc"
	"tankview/internal/stream"
)

// Console is the application context shared by every pipeline. The device
// configuration is fetched once and held here for the life of the page.
type Console struct {
	cfg      config.Config
	logger   *slog.Logger
	doc      *dom.Document
	renderer *render.Renderer
	binder   *forms.Binder
	rpc      *rpc.Client
	channels []stream.Channel
	health   *HealthStatus

	deviceConfig  atomic.Pointer[model.DeviceConfig]
	configLoading atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) (*Console, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	doc, err := page.Load(cfg.PageFile)
	if err != nil {
		return nil, fmt.Errorf("page document: %w", err)
	}

	client, err := rpc.NewClient(cfg.DeviceURL, cfg.HTTPTimeout, tlsCfg, logger.With("component", "rpc"))
	if err != nil {
		return nil, fmt.Errorf("rpc client: %w", err)
	}
	client.WithConfigPath(cfg.ConfigRPCPath)

	channels, err := stream.NewChannelsFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry streams: %w", err)
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name)
	}

	c := &Console{
		cfg:      cfg,
		logger:   logger,
		doc:      doc,
		renderer: render.New(doc, render.WithLocation(loc)),
		binder:   forms.NewBinder(doc, client, logger.With("component", "forms")),
		rpc:      client,
		channels: channels,
		health:   NewHealthStatus(names...),
	}
	for _, ch := range channels {
		c.subscribe(ch)
	}
	return c, nil
}

// subscribe routes a channel's events into the renderer and the health state.
func (c *Console) subscribe(ch stream.Channel) {
	name := ch.Name
	ch.Conn.Subscribe(stream.EventOpened, func(stream.Event) {
		c.health.SetChannelConnected(name, true)
	})
	ch.Conn.Subscribe(stream.EventClosed, func(stream.Event) {
		c.health.SetChannelConnected(name, false)
	})
	ch.Conn.Subscribe(stream.EventMessage, func(ev stream.Event) {
		c.renderer.Render(name, ev.Record)
		c.health.MarkMessage(name, ev.At)
	})
}

func (c *Console) Document() *dom.Document { return c.doc }

func (c *Console) Health() *HealthStatus { return c.health }

// DeviceConfig returns the cached device configuration, nil until loaded.
func (c *Console) DeviceConfig() *model.DeviceConfig { return c.deviceConfig.Load() }

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}
