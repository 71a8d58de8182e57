package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	"courier/internal/service"
)

type fakeEngine struct {
	submitted  *domain.Message
	submitErr  error
	channel    string
	hints      map[string]string
	corr       service.Correlation
	corrErr    error
	statusErr  error
	statusRefs []string
	escalation service.EscalationResult
	escErr     error
	reason     string
}

func (f *fakeEngine) Submit(_ context.Context, msg *domain.Message) (*service.DispatchResult, error) {
	f.submitted = msg
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &service.DispatchResult{
		Message:    msg,
		Units:      []domain.DeliveryUnit{{MessageID: msg.ID}},
		References: map[string]string{"r1": "ref-1"},
	}, nil
}

func (f *fakeEngine) HandleResponse(_ context.Context, channel string, _ []byte, hints map[string]string) (service.Correlation, error) {
	f.channel = channel
	f.hints = hints
	return f.corr, f.corrErr
}

func (f *fakeEngine) UpdateStatus(_ context.Context, refs []string, _, _ string) (*domain.Message, error) {
	f.statusRefs = refs
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &domain.Message{ID: "msg-1"}, nil
}

func (f *fakeEngine) HandleUnreachable(_ context.Context, _ string, reason domain.UnreachableReason) (service.EscalationResult, error) {
	f.reason = string(reason)
	return f.escalation, f.escErr
}

func (f *fakeEngine) HandleTimeout(_ context.Context, _ string, reason domain.TimeoutReason) (service.EscalationResult, error) {
	f.reason = string(reason)
	return f.escalation, f.escErr
}

func newTestHandler(engine *fakeEngine) *Handler {
	return NewHandler(engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func post(path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Path: path, Body: body}
}

func decodeData(t *testing.T, body string, out any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func decodeError(t *testing.T, body string) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return resp
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newTestHandler(&fakeEngine{})

	resp, err := h.Handle(context.Background(), post("/nope", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/messages"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_Submit(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(engine)

	env, err := domain.Encode(&domain.Message{
		Kind: domain.KindMessage,
		ID:   "msg-1",
		Recipients: []domain.Recipient{
			{ID: "r1", Address: domain.NewPhysicalAddress(domain.ServiceSMS, "+15550101")},
		},
		Parts: []domain.MessageBody{{Content: "hello"}},
	})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), post("/messages", string(env)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])

	var out SubmitResponse
	decodeData(t, resp.Body, &out)
	assert.Equal(t, "msg-1", out.MessageID)
	assert.Equal(t, "ref-1", out.References["r1"])
	assert.Equal(t, 1, out.Units)
	require.NotNil(t, engine.submitted)
	assert.Equal(t, "hello", engine.submitted.Parts[0].Content)
}

func TestHandle_SubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "bad envelope", body: "{", status: http.StatusBadRequest},
		{name: "invalid message", err: fmt.Errorf("validate: %w", domain.ErrUnknownConversation), status: http.StatusBadRequest},
		{name: "system fault", err: &domain.MessageError{Op: "SaveMessage", Err: domain.ErrSystemFault}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == "" {
				env, err := domain.Encode(&domain.Message{Kind: domain.KindMessage, ID: "m"})
				require.NoError(t, err)
				body = string(env)
			}
			h := newTestHandler(&fakeEngine{submitErr: tt.err})

			resp, err := h.Handle(context.Background(), post("/messages", body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp.Body).Message)
		})
	}
}

func TestHandle_Response(t *testing.T) {
	engine := &fakeEngine{corr: service.Correlation{
		Outcome:        service.Matched,
		Message:        &domain.Message{ID: "reply-1"},
		Original:       &domain.Message{ID: "msg-1"},
		RecipientID:    "r1",
		MessageIDFound: true,
		MessageFound:   true,
	}}
	h := newTestHandler(engine)

	req := post("/responses/EMAIL", base64.StdEncoding.EncodeToString([]byte("Yes")))
	req.IsBase64Encoded = true
	req.QueryStringParameters = map[string]string{"subject": "Re: [msg-1] hi"}
	req.Headers = map[string]string{
		"x-courier-hint-fromemails": "a@example.com",
		"Content-Type":              "text/plain",
	}

	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "EMAIL", engine.channel)
	assert.Equal(t, "Re: [msg-1] hi", engine.hints[service.HintSubject])
	assert.Equal(t, "a@example.com", engine.hints[service.HintFromEmails])
	assert.NotContains(t, engine.hints, "Content-Type")

	var out CorrelationResponse
	decodeData(t, resp.Body, &out)
	assert.Equal(t, "Matched", out.Outcome)
	assert.Equal(t, "reply-1", out.ReplyID)
	assert.Equal(t, "msg-1", out.MessageID)
	assert.True(t, out.MessageFound)
}

func TestHandle_ResponseNoMatchAndInvalid(t *testing.T) {
	h := newTestHandler(&fakeEngine{corr: service.Correlation{Outcome: service.NoMatch}})
	resp, err := h.Handle(context.Background(), post("/responses/SMS", `{"Reference":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h = newTestHandler(&fakeEngine{
		corr:    service.Correlation{Outcome: service.Failed},
		corrErr: fmt.Errorf("correlate sms: %w: missing Reference", domain.ErrInvalidInput),
	})
	resp, err = h.Handle(context.Background(), post("/responses/SMS", `{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_Status(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "ok", body: `{"references":["ref-1"],"action":"Delivered","status":"OK"}`, status: http.StatusOK},
		{name: "missing references", body: `{"action":"Delivered","status":"OK"}`, status: http.StatusBadRequest},
		{name: "bad json", body: `nope`, status: http.StatusBadRequest},
		{name: "no match", body: `{"references":["x"],"action":"a","status":"s"}`, err: &domain.MessageError{Err: domain.ErrNoMatch}, status: http.StatusNotFound},
		{name: "spans messages", body: `{"references":["a","b"],"action":"a","status":"s"}`, err: &domain.MessageError{Err: domain.ErrInvalidMessage}, status: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{statusErr: tt.err}
			resp, err := newTestHandler(engine).Handle(context.Background(), post("/status", tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandle_Escalations(t *testing.T) {
	engine := &fakeEngine{escalation: service.EscalationResult{Injected: 2}}
	h := newTestHandler(engine)

	resp, err := h.Handle(context.Background(), post("/escalations/unreachable", `{"message_id":"m1","reason":"ALL_HANDLERS"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ALL_HANDLERS", engine.reason)

	var out EscalationResponse
	decodeData(t, resp.Body, &out)
	assert.Equal(t, 2, out.Injected)

	resp, err = h.Handle(context.Background(), post("/escalations/timeout", `{"message_id":"m1","reason":"NO_RESPONSES"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "NO_RESPONSES", engine.reason)

	resp, err = h.Handle(context.Background(), post("/escalations/timeout", `{"message_id":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_EscalationErrors(t *testing.T) {
	h := newTestHandler(&fakeEngine{escErr: domain.ErrDuplicateSignal})
	resp, err := h.Handle(context.Background(), post("/escalations/unreachable", `{"message_id":"m1","reason":"ALL_HANDLERS"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out EscalationResponse
	decodeData(t, resp.Body, &out)
	assert.True(t, out.Duplicate)

	h = newTestHandler(&fakeEngine{escErr: &domain.MessageError{MessageID: "m1", Err: domain.ErrNoMatch}})
	resp, err = h.Handle(context.Background(), post("/escalations/timeout", `{"message_id":"m1","reason":"NO_RESPONSES"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h = newTestHandler(&fakeEngine{
		escalation: service.EscalationResult{Injected: 1},
		escErr:     fmt.Errorf("candidate 1: %w", domain.ErrSystemFault),
	})
	resp, err = h.Handle(context.Background(), post("/escalations/timeout", `{"message_id":"m1","reason":"NO_RESPONSES"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusCode(domain.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusCode(domain.ErrUnknownUser))
	assert.Equal(t, http.StatusBadRequest, StatusCode(domain.ErrInvalidContext))
	assert.Equal(t, http.StatusConflict, StatusCode(domain.ErrVersionConflict))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("x: %w", domain.ErrSystemFault)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("boom")))
}
