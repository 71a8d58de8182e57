package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// StatusRequest reports a delivery status for one or more references.
type StatusRequest struct {
	References []string `json:"references"`
	Action     string   `json:"action"`
	Status     string   `json:"status"`
}

// Validate checks if the status request is valid.
func (r *StatusRequest) Validate() error {
	if len(r.References) == 0 {
		return errors.New("references is required")
	}
	if r.Action == "" {
		return errors.New("action is required")
	}
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// EscalationRequest is an unreachable-handler or timeout signal.
type EscalationRequest struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// Validate checks if the escalation request is valid.
func (r *EscalationRequest) Validate() error {
	if r.MessageID == "" {
		return errors.New("message_id is required")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// SubmitResponse is returned for an accepted message.
type SubmitResponse struct {
	MessageID   string            `json:"message_id"`
	References  map[string]string `json:"references,omitempty"`
	Units       int               `json:"units"`
	Faults      int               `json:"faults"`
	Unreachable string            `json:"unreachable,omitempty"`
}

// CorrelationResponse is returned for an inbound reply.
type CorrelationResponse struct {
	Outcome        string `json:"outcome"`
	ReplyID        string `json:"reply_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	MessageIDFound bool   `json:"message_id_found"`
	MessageFound   bool   `json:"message_found"`
}

// EscalationResponse is returned for an escalation signal.
type EscalationResponse struct {
	Injected      int  `json:"injected"`
	NoAlternative bool `json:"no_alternative"`
	Skipped       bool `json:"skipped"`
	Duplicate     bool `json:"duplicate"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Data any `json:"data"`
}

// NewErrorResponse creates an API Gateway error response.
func NewErrorResponse(statusCode int, message string) events.APIGatewayProxyResponse {
	body := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to marshal error response",
			"error", err,
			"status_code", statusCode,
			"message", message)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    jsonHeaders(),
			Body:       `{"error":"Internal Server Error","message":"failed to build error response"}`,
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    jsonHeaders(),
		Body:       string(bodyJSON),
	}
}

// NewSuccessResponse creates an API Gateway success response.
func NewSuccessResponse(statusCode int, data any) events.APIGatewayProxyResponse {
	bodyJSON, err := json.Marshal(SuccessResponse{Data: data})
	if err != nil {
		slog.Error("failed to marshal success response",
			"error", err,
			"status_code", statusCode)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    jsonHeaders(),
			Body:       `{"error":"Internal Server Error","message":"failed to build response"}`,
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    jsonHeaders(),
		Body:       string(bodyJSON),
	}
}

func jsonHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}
