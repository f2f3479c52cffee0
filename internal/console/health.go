package console

import (
	"sync/atomic"
	"time"
)

type channelHealth struct {
	connected     atomic.Bool
	lastMessageAt atomic.Int64
	messages      atomic.Uint64
}

// HealthStatus is written by stream and config callbacks and read by the
// health loop and the viewer. The channel set is fixed at construction.
type HealthStatus struct {
	channels     map[string]*channelHealth
	configLoaded atomic.Bool
	configAt     atomic.Int64
}

func NewHealthStatus(channels ...string) *HealthStatus {
	h := &HealthStatus{channels: make(map[string]*channelHealth, len(channels))}
	for _, name := range channels {
		h.channels[name] = &channelHealth{}
	}
	return h
}

func (h *HealthStatus) SetChannelConnected(name string, ok bool) {
	if ch := h.channels[name]; ch != nil {
		ch.connected.Store(ok)
	}
}

func (h *HealthStatus) MarkMessage(name string, ts time.Time) {
	if ch := h.channels[name]; ch != nil {
		ch.lastMessageAt.Store(ts.UnixNano())
		ch.messages.Add(1)
	}
}

func (h *HealthStatus) MarkConfigLoaded(ts time.Time) {
	h.configAt.Store(ts.UnixNano())
	h.configLoaded.Store(true)
}

func (h *HealthStatus) ConfigLoaded() bool {
	return h.configLoaded.Load()
}

func (h *HealthStatus) ChannelConnected(name string) bool {
	ch := h.channels[name]
	return ch != nil && ch.connected.Load()
}

func (h *HealthStatus) Messages(name string) uint64 {
	if ch := h.channels[name]; ch != nil {
		return ch.messages.Load()
	}
	return 0
}

// Healthy reports whether the config is loaded and every stream is up.
func (h *HealthStatus) Healthy() bool {
	if !h.configLoaded.Load() {
		return false
	}
	for _, ch := range h.channels {
		if !ch.connected.Load() {
			return false
		}
	}
	return true
}

func (h *HealthStatus) Snapshot() map[string]any {
	channels := make(map[string]any, len(h.channels))
	for name, ch := range h.channels {
		entry := map[string]any{
			"connected": ch.connected.Load(),
			"messages":  ch.messages.Load(),
		}
		if v := ch.lastMessageAt.Load(); v > 0 {
			entry["last_message_at"] = time.Unix(0, v).UTC()
		}
		channels[name] = entry
	}
	out := map[string]any{
		"healthy":       h.Healthy(),
		"config_loaded": h.configLoaded.Load(),
		"channels":      channels,
	}
	if v := h.configAt.Load(); v > 0 {
		out["config_loaded_at"] = time.Unix(0, v).UTC()
	}
	return out
}
