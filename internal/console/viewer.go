package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tankview/internal/forms"
	"tankview/internal/model"
	"tankview/internal/rpc"
)

// SubmitterField names the form value selecting which submit control was
// used; it is never forwarded to the device.
const SubmitterField = "_submitter"

// Handler serves the live document and relays form posts to the device.
func (c *Console) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/", c.handleDocument)
	r.Get("/healthz", c.handleHealth)
	r.Get("/version", c.handleVersion)
	r.Get(c.cfg.ConfigRPCPath, c.handleConfig)
	r.Post("/rpc/{method}", c.handleSubmit)
	return r
}

func (c *Console) runViewer(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ViewerListenAddr)
	if err != nil {
		return fmt.Errorf("listen viewer %s: %w", c.cfg.ViewerListenAddr, err)
	}
	srv := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.logger.Info("viewer listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("viewer: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("viewer shutdown failed", "error", err)
		}
		return nil
	}
}

func (c *Console) handleDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := c.doc.Render(w); err != nil {
		c.logger.Warn("render document failed", "error", err)
	}
}

func (c *Console) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !c.health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, c.health.Snapshot())
}

func (c *Console) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := c.DeviceConfig()
	if cfg == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "device config not loaded")
		return
	}
	writeJSON(w, http.StatusOK, cfg.Root())
}

func (c *Console) handleSubmit(w http.ResponseWriter, r *http.Request) {
	edits, submitter, err := readEdits(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := c.binder.SubmitAction(r.Context(), r.URL.Path, submitter, edits)
	if err != nil {
		c.logger.Warn("form submission failed", "action", r.URL.Path, "error", err)
		status, msg := submitErrorStatus(err)
		writeJSONError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, sub.Reply)
}

// readEdits accepts either a urlencoded form post or a flat JSON object.
func readEdits(r *http.Request) (map[string]string, string, error) {
	edits := map[string]string{}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, "", fmt.Errorf("decode body: %w", err)
		}
		for k, v := range body {
			edits[k] = model.FormatValue(v)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, "", fmt.Errorf("parse form: %w", err)
		}
		for k := range r.PostForm {
			edits[k] = r.PostForm.Get(k)
		}
	}
	submitter := strings.TrimSpace(edits[SubmitterField])
	delete(edits, SubmitterField)
	return edits, submitter, nil
}

func submitErrorStatus(err error) (int, string) {
	var se *rpc.StatusError
	switch {
	case errors.As(err, &se):
		return se.Status, se.Message
	case errors.Is(err, forms.ErrNoSubmitHandler):
		return http.StatusServiceUnavailable, "device config not loaded"
	case errors.Is(err, forms.ErrFormNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, forms.ErrFieldNotNumeric), errors.Is(err, forms.ErrSubmitterInvalid):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusBadGateway, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
