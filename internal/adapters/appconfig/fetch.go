package appconfig

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"courier/internal/config"
)

// fetcher retrieves YAML profiles from the AppConfig agent.
type fetcher struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
}

func newFetcher(cfg config.AppConfigSettings, logger *slog.Logger) fetcher {
	return fetcher{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

// loadProfile fetches a configuration profile from AppConfig.
func (f fetcher) loadProfile(ctx context.Context, profile string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s.yaml", f.endpoint, profile)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config not found: %s (status %d)", profile, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
