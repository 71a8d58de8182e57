package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/adapters/messaging"
	"courier/internal/domain"
)

func TestServer_Messages(t *testing.T) {
	srv := httptest.NewServer(NewServer(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	unit := domain.DeliveryUnit{
		MessageID:    "msg-1",
		ServiceID:    domain.ServiceEmail,
		Address:      "a@example.com,fail:b@example.com",
		RecipientIDs: []string{"r1", "r2"},
		Body:         domain.MessageBody{Content: "hello"},
	}
	data, err := json.Marshal(unit)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/email/messages", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out messaging.GatewayResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.ProviderID)
	assert.Equal(t, []string{"r2"}, out.Failed)
}

func TestServer_Rejects(t *testing.T) {
	srv := httptest.NewServer(NewServer(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sms/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/sms/messages", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFailedRecipients_Group(t *testing.T) {
	unit := domain.DeliveryUnit{
		Kind:         domain.UnitPermanentGroup,
		Address:      "fail:ops",
		RecipientIDs: []string{"r1", "r2"},
	}
	assert.Equal(t, []string{"r1", "r2"}, failedRecipients(unit))
}
