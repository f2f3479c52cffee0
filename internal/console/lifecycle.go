package console

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run starts the console and blocks until ctx ends or a signal arrives. A
// second signal or the shutdown timeout forces an immediate stop.
func (c *Console) Run(ctx context.Context) error {
	c.logger.Info("starting tankview", "device_url", c.cfg.DeviceURL, "channels", len(c.channels), "version", c.cfg.Version)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- c.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		c.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", c.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(c.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			c.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			c.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", c.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	c.shutdown()

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	c.logger.Info("tankview stopped")
	return nil
}

func (c *Console) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.runStreams(gctx)
	})
	g.Go(func() error {
		c.loadConfig(gctx)
		return nil
	})
	g.Go(func() error {
		return c.runViewer(gctx)
	})
	g.Go(func() error {
		return c.runHealthLoop(gctx)
	})
	if c.cfg.ProbeListenAddr != "" {
		g.Go(func() error {
			return c.runProbeListener(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runStreams starts every telemetry stream; they reconnect on their own and
// stop when ctx ends.
func (c *Console) runStreams(ctx context.Context) error {
	for _, ch := range c.channels {
		if err := ch.Conn.Start(ctx); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

// loadConfig fetches the device configuration and binds it into the page.
// It reports whether the config is now available. Only one fetch runs at a
// time; a call made while another is in flight returns false.
func (c *Console) loadConfig(ctx context.Context) bool {
	if !c.configLoading.CompareAndSwap(false, true) {
		return false
	}
	defer c.configLoading.Store(false)

	cfg, err := c.rpc.GetConfig(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("device config unavailable", "error", err)
		}
		return false
	}
	c.deviceConfig.Store(cfg)
	if err := c.binder.Bind(cfg); err != nil {
		c.logger.Warn("some inputs could not be bound to the device config", "error", err)
	}
	c.health.MarkConfigLoaded(time.Now())
	c.logger.Info("device config loaded")
	return true
}

func (c *Console) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(c.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if !c.health.ConfigLoaded() {
				c.logger.Warn("device config missing, retrying")
				if c.loadConfig(ctx) {
					c.logHealth("recovered")
					continue
				}
			}
			c.logHealth("ok")
		}
	}
}

func (c *Console) logHealth(status string) {
	c.logger.Log(context.Background(), slog.LevelDebug, "console health", "status", status, "snapshot", c.health.Snapshot())
}

func (c *Console) shutdown() {
	for _, ch := range c.channels {
		ch.Conn.Disconnect()
		c.health.SetChannelConnected(ch.Name, false)
	}
}
