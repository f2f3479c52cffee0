package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const HardcodedVersion = "V0.3"

// Channel is one telemetry stream. Name doubles as the render context prefix
// ("status" renders its clock into #status-timestamp).
type Channel struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type Config struct {
	DeviceURL             string        `yaml:"device_url"`
	Channels              []Channel     `yaml:"channels"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	HTTPTimeout           time.Duration `yaml:"http_timeout"`
	ConfigRPCPath         string        `yaml:"config_rpc_path"`
	PageFile              string        `yaml:"page_file"`
	ViewerListenAddr      string        `yaml:"viewer_listen_addr"`
	ProbeListenAddr       string        `yaml:"probe_listen_addr"`
	HealthInterval        time.Duration `yaml:"health_interval"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	TimeZone              string        `yaml:"time_zone"`
	WebSocketReadLimit    int64         `yaml:"ws_read_limit"`
	WebSocketPingInterval time.Duration `yaml:"ws_ping_interval"`
	TLSSkipVerify         bool          `yaml:"tls_skip_verify"`
	TLSCAPath             string        `yaml:"tls_ca_path"`
	LogJSON               bool          `yaml:"log_json"`
	LogLevel              string        `yaml:"log_level"`
	Version               string        `yaml:"-"`
}

func Defaults() Config {
	return Config{
		DeviceURL: "http://192.168.4.1",
		Channels: []Channel{
			{Name: "status", Path: "/status"},
			{Name: "raw", Path: "/raw"},
		},
		RetryDelay:            1000 * time.Millisecond,
		DialTimeout:           5 * time.Second,
		HTTPTimeout:           10 * time.Second,
		ConfigRPCPath:         "/rpc/config.get",
		ViewerListenAddr:      "127.0.0.1:8088",
		HealthInterval:        10 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		TimeZone:              "Local",
		WebSocketReadLimit:    1 << 20,
		WebSocketPingInterval: 15 * time.Second,
		LogLevel:              "info",
		Version:               HardcodedVersion,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then TANKVIEW_* environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) error {
	c.DeviceURL = env("TANKVIEW_DEVICE_URL", c.DeviceURL)
	if v := env("TANKVIEW_CHANNELS", ""); v != "" {
		chs, err := ParseChannels(v)
		if err != nil {
			return fmt.Errorf("TANKVIEW_CHANNELS: %w", err)
		}
		c.Channels = chs
	}
	c.RetryDelay = envDuration("TANKVIEW_RETRY_DELAY", c.RetryDelay)
	c.DialTimeout = envDuration("TANKVIEW_DIAL_TIMEOUT", c.DialTimeout)
	c.HTTPTimeout = envDuration("TANKVIEW_HTTP_TIMEOUT", c.HTTPTimeout)
	c.ConfigRPCPath = env("TANKVIEW_CONFIG_RPC_PATH", c.ConfigRPCPath)
	c.PageFile = env("TANKVIEW_PAGE_FILE", c.PageFile)
	c.ViewerListenAddr = env("TANKVIEW_VIEWER_ADDR", c.ViewerListenAddr)
	c.ProbeListenAddr = env("TANKVIEW_PROBE_ADDR", c.ProbeListenAddr)
	c.HealthInterval = envDuration("TANKVIEW_HEALTH_INTERVAL", c.HealthInterval)
	c.ShutdownTimeout = envDuration("TANKVIEW_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.TimeZone = env("TANKVIEW_TIMEZONE", c.TimeZone)
	c.WebSocketReadLimit = int64(envInt("TANKVIEW_WS_READ_LIMIT", int(c.WebSocketReadLimit)))
	c.WebSocketPingInterval = envDuration("TANKVIEW_WS_PING_INTERVAL", c.WebSocketPingInterval)
	c.TLSSkipVerify = envBool("TANKVIEW_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("TANKVIEW_TLS_CA_PATH", c.TLSCAPath)
	c.LogJSON = envBool("TANKVIEW_LOG_JSON", c.LogJSON)
	c.LogLevel = env("TANKVIEW_LOG_LEVEL", c.LogLevel)
	return nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.DeviceURL)
	if err != nil {
		return fmt.Errorf("invalid device url %q: %w", c.DeviceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("device url %q must use http or https", c.DeviceURL)
	}
	if u.Host == "" {
		return fmt.Errorf("device url %q has no host", c.DeviceURL)
	}
	if len(c.Channels) == 0 {
		return errors.New("at least one telemetry channel is required")
	}
	seen := map[string]bool{}
	for _, ch := range c.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			return errors.New("telemetry channel name must not be empty")
		}
		if !strings.HasPrefix(ch.Path, "/") {
			return fmt.Errorf("telemetry channel %q path must start with /", ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate telemetry channel %q", ch.Name)
		}
		seen[ch.Name] = true
	}
	if c.RetryDelay <= 0 {
		return errors.New("retry delay must be > 0")
	}
	if c.DialTimeout <= 0 || c.HTTPTimeout <= 0 {
		return errors.New("dial and http timeouts must be > 0")
	}
	if c.HealthInterval <= 0 {
		return errors.New("health interval must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be > 0")
	}
	if !strings.HasPrefix(c.ConfigRPCPath, "/") {
		return errors.New("config rpc path must start with /")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

// StreamURL maps a channel onto the device host: http becomes ws, https wss.
func (c Config) StreamURL(ch Channel) (string, error) {
	u, err := url.Parse(c.DeviceURL)
	if err != nil {
		return "", fmt.Errorf("parse device url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + ch.Path
	return u.String(), nil
}

func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSSkipVerify && c.TLSCAPath == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// ParseChannels reads "status=/status,raw=/raw".
func ParseChannels(s string) ([]Channel, error) {
	var out []Channel
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, path, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("channel %q must look like name=/path", part)
		}
		out = append(out, Channel{Name: strings.TrimSpace(name), Path: strings.TrimSpace(path)})
	}
	if len(out) == 0 {
		return nil, errors.New("no channels given")
	}
	return out, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
