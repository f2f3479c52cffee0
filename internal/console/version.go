package console

import (
	"net/http"
	"time"

	"tankview/internal/config"
)

type VersionInfo struct {
	Version         string `json:"version"`
	DeviceURL       string `json:"device_url"`
	ProbeListenAddr string `json:"probe_listen_addr,omitempty"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}

func Version(cfg config.Config) VersionInfo {
	return VersionInfo{
		Version:         cfg.Version,
		DeviceURL:       cfg.DeviceURL,
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}

func (c *Console) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Version(c.cfg))
}
