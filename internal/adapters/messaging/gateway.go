package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"courier/internal/domain"
)

// GatewayConfig holds channel gateway settings.
type GatewayConfig struct {
	Endpoints    map[string]string // service id -> base URL
	TokenURL     string            // OAuth2 token endpoint, empty disables auth
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	RateLimit    float64 // requests per second, 0 disables limiting
}

// GatewayResponse is the body returned by a channel gateway.
type GatewayResponse struct {
	ProviderID string   `json:"provider_id"`
	Failed     []string `json:"failed_recipient_ids,omitempty"`
}

// GatewayError is a non-2xx gateway response.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when sent again.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode < 400 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// GatewaySender implements ports.Sender by posting units to per-service HTTP gateways.
type GatewaySender struct {
	config     GatewayConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewGatewaySender creates a sender. When a token URL is configured the HTTP
// client authenticates with the OAuth2 client credentials flow.
func NewGatewaySender(ctx context.Context, config GatewayConfig, logger *slog.Logger) *GatewaySender {
	httpClient := &http.Client{Timeout: config.Timeout}
	if config.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
		httpClient = creds.Client(ctx)
		httpClient.Timeout = config.Timeout
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &GatewaySender{
		config:     config,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

// Send posts a unit to the gateway of its service, retrying transient failures.
func (s *GatewaySender) Send(ctx context.Context, unit domain.DeliveryUnit) (domain.SendResult, error) {
	endpoint, ok := s.config.Endpoints[unit.ServiceID]
	if !ok {
		return domain.SendResult{}, &domain.MessageError{
			MessageID: unit.MessageID,
			Op:        "send",
			Err:       fmt.Errorf("%w: no gateway for service %s", domain.ErrDelivery, unit.ServiceID),
		}
	}

	body, err := json.Marshal(unit)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("marshal unit: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return domain.SendResult{}, ctx.Err()
			}
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return domain.SendResult{}, err
			}
		}

		resp, err := s.post(ctx, endpoint+"/messages", body)
		if err == nil {
			s.logger.Debug("unit sent",
				"message_id", unit.MessageID,
				"service_id", unit.ServiceID,
				"provider_id", resp.ProviderID,
				"failed", len(resp.Failed),
			)
			return domain.SendResult{ProviderID: resp.ProviderID, Failed: resp.Failed}, nil
		}

		lastErr = err

		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Retryable() {
			break
		}
		s.logger.Warn("gateway request failed", "service_id", unit.ServiceID, "attempt", attempt+1, "error", err)
	}

	return domain.SendResult{}, &domain.MessageError{
		MessageID: unit.MessageID,
		Op:        "send",
		Err:       fmt.Errorf("%w: %w", domain.ErrDelivery, lastErr),
	}
}

func (s *GatewaySender) post(ctx context.Context, url string, body []byte) (*GatewayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out GatewayResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}
