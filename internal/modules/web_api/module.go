// Package webapi serves the HTTP control surface for a player node: status,
// playback actions, media management, a status WebSocket, and Prometheus
// metrics.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/modules/player_core"
	"github.com/mikey-austin/splice_box/internal/telemetry"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

// Controller is what the HTTP surface needs from the player node.
type Controller interface {
	Status() sbx.PlayerStatus
	FireEvent(source string) (bool, error)
	FireRandom() (bool, error)
	StartPlayback() error
	PauseToggle() (bool, error)
	Skip() error
	EnsureIdle() error
	ReloadConfig() (int64, error)
	ReloadMedia()
	MediaList(category string) (sbx.MediaListReply, error)
}

// Config configures the web API module.
type Config struct {
	Listen          string
	MaxUploadMB     int64
	MediaRoot       string
	ShutdownCommand string
	RebootCommand   string
}

// Module is the HTTP control surface.
type Module struct {
	log        *zap.Logger
	config     Config
	controller Controller
	lib        playercore.Library

	// swapped out in tests
	runCommand func(line string) error
	uptimePath string
	tempPath   string
}

// NewModule creates the web API module.
func NewModule(log *zap.Logger, controller Controller, cfg Config) (*Module, error) {
	if controller == nil {
		return nil, errors.New("controller required")
	}
	if strings.TrimSpace(cfg.MediaRoot) == "" {
		return nil, errors.New("media root required")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8080"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 512
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Module{
		log:        log,
		config:     cfg,
		controller: controller,
		lib:        playercore.Library{Root: cfg.MediaRoot},
		runCommand: runCommandLine,
		uptimePath: "/proc/uptime",
		tempPath:   "/sys/class/thermal/thermal_zone0/temp",
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (m *Module) Run(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	m.Routes(router)

	server := &http.Server{
		Addr:              m.config.Listen,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		m.log.Info("web api listening", zap.String("addr", m.config.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Routes mounts the API on the provided router.
func (m *Module) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", m.handlePing)
		r.Get("/status", m.handleStatus)
		r.Get("/sysinfo", m.handleSysInfo)

		r.Post("/trigger/{kind}", m.handleTrigger)
		r.Post("/playback/{action}", m.handlePlayback)
		r.Post("/config/reload", m.handleConfigReload)
		r.Post("/media/reload", m.handleMediaReload)

		r.Get("/media", m.handleMediaList)
		r.Post("/media/{category}", m.handleUpload)
		r.Delete("/media/{category}/{name}", m.handleDelete)

		r.Post("/system/{action}", m.handleSystem)
	})
	r.Get("/ws/status", m.handleStatusWS)
	r.Get("/metrics", telemetry.Handler().ServeHTTP)
}

func (m *Module) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.controller.Status())
}

func (m *Module) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var fired bool
	var err error
	switch chi.URLParam(r, "kind") {
	case "event":
		fired, err = m.controller.FireEvent("api")
	case "random":
		fired, err = m.controller.FireRandom()
	default:
		writeError(w, http.StatusNotFound, "unknown trigger kind")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sbx.TriggerReply{Fired: fired})
}

func (m *Module) handlePlayback(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "start":
		if err := m.controller.StartPlayback(); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case "pause":
		paused, err := m.controller.PauseToggle()
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sbx.PauseReply{Paused: paused})
	case "skip":
		if err := m.controller.Skip(); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "unknown playback action")
	}
}

func (m *Module) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	seconds, err := m.controller.ReloadConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sbx.ReloadReply{IdleToRandomS: seconds})
}

func (m *Module) handleMediaReload(w http.ResponseWriter, r *http.Request) {
	m.controller.ReloadMedia()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (m *Module) handleMediaList(w http.ResponseWriter, r *http.Request) {
	list, err := m.controller.MediaList(r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (m *Module) handleUpload(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if !playercore.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxUploadMB*1024*1024)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name := sanitizeName(header.Filename)
	if name == "" {
		writeError(w, http.StatusBadRequest, "unusable filename")
		return
	}

	dir := m.lib.Dir(category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dest := filepath.Join(dir, name)
	if err := writeAtomic(dest, file); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	m.log.Info("media uploaded", zap.String("file", name), zap.String("category", category))
	m.controller.ReloadMedia()
	if category == playercore.CategoryIdle {
		if err := m.controller.EnsureIdle(); err != nil {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"ok":      false,
				"file":    name,
				"message": fmt.Sprintf("uploaded; idle restart failed: %v", err),
			})
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "file": name})
}

func (m *Module) handleDelete(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if !playercore.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	name := sanitizeName(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "unusable filename")
		return
	}

	path := filepath.Join(m.lib.Dir(category), name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no such file")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	m.log.Info("media deleted", zap.String("file", name), zap.String("category", category))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (m *Module) handleSystem(w http.ResponseWriter, r *http.Request) {
	var line string
	action := chi.URLParam(r, "action")
	switch action {
	case "shutdown":
		line = m.config.ShutdownCommand
	case "reboot":
		line = m.config.RebootCommand
	default:
		writeError(w, http.StatusNotFound, "unknown system action")
		return
	}
	if strings.TrimSpace(line) == "" {
		writeError(w, http.StatusNotFound, "not configured")
		return
	}

	m.log.Info("system command requested", zap.String("action", action))
	// Reply before the box goes down.
	go func() {
		if err := m.runCommand(line); err != nil {
			m.log.Error("system command failed", zap.String("action", action), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sanitizeName reduces an uploaded filename to a bare, visible basename.
func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" || strings.ContainsAny(name, `/\`) {
		return ""
	}
	return name
}

// writeAtomic streams src into dest via a temp file invisible to the media
// library until the final rename.
func writeAtomic(dest string, src io.Reader) error {
	tmp := fmt.Sprintf("%s.tmp.%d", dest, time.Now().UnixNano())
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func runCommandLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", fields[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
