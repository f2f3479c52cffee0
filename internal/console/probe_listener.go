package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// runProbeListener answers every TCP connection with a one-line status for
// load balancer style liveness checks.
func (c *Console) runProbeListener(ctx context.Context) error {
	addr := strings.TrimSpace(c.cfg.ProbeListenAddr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	c.logger.Info("probe endpoint listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(acceptErr, &ne) && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept probe endpoint %s: %w", addr, acceptErr)
		}

		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Write([]byte(probeReply(c.health.Healthy())))
		_ = conn.Close()
	}
}

func probeReply(healthy bool) string {
	if healthy {
		return "tankview:ok\n"
	}
	return "tankview:degraded\n"
}
