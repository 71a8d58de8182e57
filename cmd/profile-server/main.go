package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courier/internal/adapters/appconfig"
	"courier/internal/config"
	"courier/internal/logging"
)

const (
	defaultPort       = "2772"
	defaultConfigsDir = "/configs"
)

// checker validates a profile document before it is served.
type checker func(name string, data []byte) error

// Server serves YAML profiles from a directory the way the AppConfig agent
// does. Engine, directory and template profiles are parsed first so a broken
// document is reported here instead of inside the engine.
type Server struct {
	configsDir string
	checkers   map[string]checker
	logger     *slog.Logger
}

func NewServer(configsDir string, settings config.AppConfigSettings, logger *slog.Logger) *Server {
	checkers := map[string]checker{
		settings.EngineProfile: func(_ string, data []byte) error {
			_, err := config.ParseEngineConfig(data)
			return err
		},
		settings.DirectoryProfile: func(name string, data []byte) error {
			_, err := appconfig.ParseDirectoryProfile(name, data)
			return err
		},
		settings.TemplateProfile: func(name string, data []byte) error {
			_, err := appconfig.ParseTemplateConfig(name, data)
			return err
		},
	}
	delete(checkers, "")

	return &Server{
		configsDir: configsDir,
		checkers:   checkers,
		logger:     logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s.logger.Info("incoming request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	)

	if r.URL.Path == "/health" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		s.logger.Warn("method not allowed", "method", r.Method, "path", r.URL.Path)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/")
	if filename == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if strings.Contains(filename, "..") || strings.ContainsRune(filename, '/') {
		w.WriteHeader(http.StatusBadRequest)
		s.logger.Warn("invalid profile name", "filename", filename)
		return
	}

	filePath := filepath.Join(s.configsDir, filename)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			s.logger.Warn("profile not found", "filename", filename, "path", filePath)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
			s.logger.Error("failed to read profile", "filename", filename, "error", err)
		}
		return
	}

	profile := strings.TrimSuffix(strings.TrimSuffix(filename, ".yaml"), ".yml")
	if check, ok := s.checkers[profile]; ok {
		if err := check(profile, data); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(err.Error()))
			s.logger.Error("profile rejected", "profile", profile, "error", err)
			return
		}
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		contentType = "application/x-yaml"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)

	s.logger.Info("profile served",
		"profile", profile,
		"size", len(data),
		"duration", time.Since(start),
	)
}

func main() {
	logger := logging.New(logging.DefaultConfig())

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	configsDir := os.Getenv("CONFIGS_DIR")
	if configsDir == "" {
		configsDir = defaultConfigsDir
	}

	if _, err := os.Stat(configsDir); err != nil {
		logger.Error("configs directory is not readable", "path", configsDir, "error", err)
		os.Exit(1)
	}

	settings := config.AppConfigSettings{
		EngineProfile:    envOr("APPCONFIG_ENGINE_PROFILE", "engine"),
		DirectoryProfile: envOr("APPCONFIG_DIRECTORY_PROFILE", "directory"),
		TemplateProfile:  envOr("APPCONFIG_TEMPLATE_PROFILE", "notifications"),
	}

	server := NewServer(configsDir, settings, logger)

	addr := fmt.Sprintf(":%s", port)
	logger.Info("starting profile server", "port", port, "configs_dir", configsDir)

	if err := http.ListenAndServe(addr, server); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
