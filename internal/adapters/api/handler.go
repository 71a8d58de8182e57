package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"courier/internal/domain"
	"courier/internal/service"
)

// HintHeaderPrefix marks request headers carrying correlation hints.
const HintHeaderPrefix = "X-Courier-Hint-"

// Engine is the application surface served by the API.
type Engine interface {
	Submit(ctx context.Context, msg *domain.Message) (*service.DispatchResult, error)
	HandleResponse(ctx context.Context, channel string, raw []byte, hints map[string]string) (service.Correlation, error)
	UpdateStatus(ctx context.Context, refs []string, action, status string) (*domain.Message, error)
	HandleUnreachable(ctx context.Context, messageID string, reason domain.UnreachableReason) (service.EscalationResult, error)
	HandleTimeout(ctx context.Context, messageID string, reason domain.TimeoutReason) (service.EscalationResult, error)
}

// Handler handles HTTP requests from API Gateway.
type Handler struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Handle routes API Gateway requests to the appropriate handler.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.logger.Info("request received",
		"path", req.Path,
		"method", req.HTTPMethod)

	if req.HTTPMethod != http.MethodPost {
		return h.notFound(req), nil
	}

	switch {
	case req.Path == "/messages":
		return h.handleSubmit(ctx, req)
	case strings.HasPrefix(req.Path, "/responses/"):
		return h.handleResponse(ctx, req)
	case req.Path == "/status":
		return h.handleStatus(ctx, req)
	case req.Path == "/escalations/unreachable":
		return h.handleUnreachable(ctx, req)
	case req.Path == "/escalations/timeout":
		return h.handleTimeout(ctx, req)
	default:
		return h.notFound(req), nil
	}
}

func (h *Handler) notFound(req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	h.logger.Warn("route not found",
		"path", req.Path,
		"method", req.HTTPMethod)
	return NewErrorResponse(http.StatusNotFound, "route not found")
}

// handleSubmit handles POST /messages requests.
func (h *Handler) handleSubmit(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, err := requestBody(req)
	if err != nil {
		return NewErrorResponse(http.StatusBadRequest, "invalid request body"), nil
	}

	msg, err := domain.Decode(body)
	if err != nil {
		h.logger.Warn("invalid envelope", "error", err)
		return NewErrorResponse(http.StatusBadRequest, err.Error()), nil
	}

	result, err := h.engine.Submit(ctx, msg)
	if err != nil {
		return h.errorResponse("submit", err), nil
	}

	resp := SubmitResponse{
		MessageID:  result.Message.ID,
		References: result.References,
		Units:      len(result.Units),
		Faults:     len(result.Faults),
	}
	if result.Unreachable != nil {
		resp.Unreachable = string(result.Unreachable.Reason)
	}
	return NewSuccessResponse(http.StatusAccepted, resp), nil
}

// handleResponse handles POST /responses/{channel} requests.
func (h *Handler) handleResponse(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	channel := req.PathParameters["channel"]
	if channel == "" {
		channel = strings.TrimPrefix(req.Path, "/responses/")
	}

	body, err := requestBody(req)
	if err != nil {
		return NewErrorResponse(http.StatusBadRequest, "invalid request body"), nil
	}

	corr, err := h.engine.HandleResponse(ctx, channel, body, hints(req))
	if err != nil {
		return h.errorResponse("correlate", err), nil
	}

	resp := CorrelationResponse{
		Outcome:        string(corr.Outcome),
		RecipientID:    corr.RecipientID,
		MessageIDFound: corr.MessageIDFound,
		MessageFound:   corr.MessageFound,
	}
	if corr.Message != nil {
		resp.ReplyID = corr.Message.ID
	}
	if corr.Original != nil {
		resp.MessageID = corr.Original.ID
	}
	return NewSuccessResponse(http.StatusOK, resp), nil
}

// handleStatus handles POST /status requests.
func (h *Handler) handleStatus(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var statusReq StatusRequest
	if err := json.Unmarshal([]byte(req.Body), &statusReq); err != nil {
		h.logger.Warn("invalid request body", "error", err)
		return NewErrorResponse(http.StatusBadRequest, "invalid request body"), nil
	}
	if err := statusReq.Validate(); err != nil {
		h.logger.Warn("validation failed", "error", err)
		return NewErrorResponse(http.StatusBadRequest, err.Error()), nil
	}

	msg, err := h.engine.UpdateStatus(ctx, statusReq.References, statusReq.Action, statusReq.Status)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidMessage) {
			h.logger.Warn("references span messages", "error", err)
			return NewErrorResponse(http.StatusConflict, err.Error()), nil
		}
		return h.errorResponse("update status", err), nil
	}

	return NewSuccessResponse(http.StatusOK, map[string]string{"message_id": msg.ID}), nil
}

// handleUnreachable handles POST /escalations/unreachable requests.
func (h *Handler) handleUnreachable(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	escReq, resp, ok := h.parseEscalation(req)
	if !ok {
		return resp, nil
	}

	res, err := h.engine.HandleUnreachable(ctx, escReq.MessageID, domain.UnreachableReason(escReq.Reason))
	return h.escalationResponse(res, err), nil
}

// handleTimeout handles POST /escalations/timeout requests.
func (h *Handler) handleTimeout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	escReq, resp, ok := h.parseEscalation(req)
	if !ok {
		return resp, nil
	}

	res, err := h.engine.HandleTimeout(ctx, escReq.MessageID, domain.TimeoutReason(escReq.Reason))
	return h.escalationResponse(res, err), nil
}

func (h *Handler) parseEscalation(req events.APIGatewayProxyRequest) (EscalationRequest, events.APIGatewayProxyResponse, bool) {
	var escReq EscalationRequest
	if err := json.Unmarshal([]byte(req.Body), &escReq); err != nil {
		h.logger.Warn("invalid request body", "error", err)
		return escReq, NewErrorResponse(http.StatusBadRequest, "invalid request body"), false
	}
	if err := escReq.Validate(); err != nil {
		h.logger.Warn("validation failed", "error", err)
		return escReq, NewErrorResponse(http.StatusBadRequest, err.Error()), false
	}
	return escReq, events.APIGatewayProxyResponse{}, true
}

func (h *Handler) escalationResponse(res service.EscalationResult, err error) events.APIGatewayProxyResponse {
	if errors.Is(err, domain.ErrDuplicateSignal) {
		return NewSuccessResponse(http.StatusOK, EscalationResponse{Duplicate: true})
	}
	if err != nil && res.Injected == 0 {
		return h.errorResponse("escalate", err)
	}
	if err != nil {
		h.logger.Warn("escalation partially failed", "injected", res.Injected, "error", err)
	}
	return NewSuccessResponse(http.StatusAccepted, EscalationResponse{
		Injected:      res.Injected,
		NoAlternative: res.NoAlternative,
		Skipped:       res.Skipped,
	})
}

func (h *Handler) errorResponse(op string, err error) events.APIGatewayProxyResponse {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		return NewErrorResponse(code, "internal error")
	}
	h.logger.Warn("request rejected", "op", op, "status", code, "error", err)
	return NewErrorResponse(code, err.Error())
}

// StatusCode maps an error to an HTTP status by its sentinel chain.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoMatch), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrLockNotAcquired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSystemFault):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrInvalidMessage),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidContext):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// hints merges query parameters with X-Courier-Hint-* headers.
func hints(req events.APIGatewayProxyRequest) map[string]string {
	out := make(map[string]string, len(req.QueryStringParameters))
	for k, v := range req.QueryStringParameters {
		out[k] = v
	}
	for k, v := range req.Headers {
		if len(k) > len(HintHeaderPrefix) && strings.EqualFold(k[:len(HintHeaderPrefix)], HintHeaderPrefix) {
			out[hintKey(k[len(HintHeaderPrefix):])] = v
		}
	}
	return out
}

// hintKey restores the camel-cased hint names used by the correlator.
func hintKey(name string) string {
	for _, k := range []string{
		service.HintSubject,
		service.HintFromEmails,
		service.HintToEmails,
		service.HintContentType,
		service.HintReceivedDate,
	} {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}
