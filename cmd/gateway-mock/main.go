package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"courier/internal/adapters/messaging"
	"courier/internal/domain"
)

const (
	defaultPort = "8081"
	failPrefix  = "fail:"
)

// Server accepts delivery units for every service and reports addresses
// prefixed "fail:" as unreachable.
type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{
		logger: logger,
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

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		s.logger.Warn("method not allowed", "method", r.Method, "path", r.URL.Path)
		return
	}

	if r.URL.Path == "/token" {
		s.handleToken(w)
		return
	}

	if !strings.HasSuffix(r.URL.Path, "/messages") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		s.logger.Error("failed to read request body", "error", err)
		return
	}
	defer r.Body.Close()

	var unit domain.DeliveryUnit
	if err := json.Unmarshal(body, &unit); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		s.logger.Error("failed to parse delivery unit", "error", err)
		return
	}

	resp := messaging.GatewayResponse{
		ProviderID: fmt.Sprintf("mock-%s", uuid.New().String()),
		Failed:     failedRecipients(unit),
	}

	s.logger.Info("mock delivery",
		"service_id", unit.ServiceID,
		"kind", unit.Kind,
		"to", unit.Recipients(),
		"subject", unit.Subject,
		"body", unit.Body.Content,
		"failed", len(resp.Failed),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)

	s.logger.Info("delivery accepted",
		"provider_id", resp.ProviderID,
		"duration", time.Since(start),
	)
}

func (s *Server) handleToken(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "mock-" + uuid.New().String(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// failedRecipients maps "fail:" addresses back to recipient ids. A group unit
// fails as a whole.
func failedRecipients(unit domain.DeliveryUnit) []string {
	if unit.Kind == domain.UnitPermanentGroup {
		if strings.HasPrefix(unit.Address, failPrefix) {
			return unit.RecipientIDs
		}
		return nil
	}

	var failed []string
	for i, addr := range unit.Recipients() {
		if strings.HasPrefix(strings.TrimSpace(addr), failPrefix) && i < len(unit.RecipientIDs) {
			failed = append(failed, unit.RecipientIDs[i])
		}
	}
	return failed
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	server := NewServer(logger)

	addr := fmt.Sprintf(":%s", port)
	logger.Info("starting gateway mock server",
		"port", port,
		"endpoint", fmt.Sprintf("http://localhost:%s/{service}/messages", port),
	)

	if err := http.ListenAndServe(addr, server); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
