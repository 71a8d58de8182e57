package messaging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUnit() domain.DeliveryUnit {
	return domain.DeliveryUnit{
		MessageID:    "m1",
		ServiceID:    domain.ServiceSMS,
		Kind:         domain.UnitSingle,
		Address:      "+15550101",
		Body:         domain.MessageBody{Content: "hello"},
		RecipientIDs: []string{"r1"},
	}
}

func newSender(t *testing.T, url string, retries int) *GatewaySender {
	t.Helper()
	return NewGatewaySender(context.Background(), GatewayConfig{
		Endpoints:  map[string]string{domain.ServiceSMS: url},
		Timeout:    time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	}, testLogger())
}

func TestGatewaySender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)

		var unit domain.DeliveryUnit
		require.NoError(t, json.NewDecoder(r.Body).Decode(&unit))
		assert.Equal(t, "+15550101", unit.Address)

		_ = json.NewEncoder(w).Encode(GatewayResponse{ProviderID: "p-1", Failed: []string{"r1"}})
	}))
	defer srv.Close()

	res, err := newSender(t, srv.URL, 0).Send(context.Background(), testUnit())
	require.NoError(t, err)
	assert.Equal(t, "p-1", res.ProviderID)
	assert.Equal(t, []string{"r1"}, res.Failed)
}

func TestGatewaySender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(GatewayResponse{ProviderID: "p-3"})
	}))
	defer srv.Close()

	res, err := newSender(t, srv.URL, 3).Send(context.Background(), testUnit())
	require.NoError(t, err)
	assert.Equal(t, "p-3", res.ProviderID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGatewaySender_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newSender(t, srv.URL, 3).Send(context.Background(), testUnit())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGatewaySender_UnknownService(t *testing.T) {
	unit := testUnit()
	unit.ServiceID = domain.ServiceVoice

	_, err := newSender(t, "http://unused", 0).Send(context.Background(), unit)
	assert.ErrorIs(t, err, domain.ErrDelivery)
}

func TestGatewaySender_ClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(GatewayResponse{ProviderID: "p-auth"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sender := NewGatewaySender(context.Background(), GatewayConfig{
		Endpoints:    map[string]string{domain.ServiceSMS: srv.URL},
		TokenURL:     srv.URL + "/token",
		ClientID:     "id",
		ClientSecret: "secret",
		Timeout:      time.Second,
		RateLimit:    100,
	}, testLogger())

	res, err := sender.Send(context.Background(), testUnit())
	require.NoError(t, err)
	assert.Equal(t, "p-auth", res.ProviderID)
}

func TestLogSender_Send(t *testing.T) {
	res, err := NewLogSender(testLogger()).Send(context.Background(), testUnit())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderID)
	assert.Empty(t, res.Failed)
}
