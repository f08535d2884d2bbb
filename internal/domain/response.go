package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

// ResponseMeta is attached to every envelope.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

// Envelope is the JSON body shape of every edge response.
type Envelope struct {
	Success     bool         `json:"success"`
	Data        any          `json:"data,omitempty"`
	Error       string       `json:"error,omitempty"`
	Message     string       `json:"message,omitempty"`
	Code        ErrorCode    `json:"code,omitempty"`
	UserMessage string       `json:"userMessage,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
	Details     any          `json:"details,omitempty"`
	Meta        ResponseMeta `json:"meta"`
}

func metaFrom(ctx context.Context) ResponseMeta {
	meta := ResponseMeta{Timestamp: time.Now().UTC()}
	if id, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok {
		meta.RequestID = id
	}
	return meta
}

// SuccessEnvelope wraps data for a 2xx response.
func SuccessEnvelope(ctx context.Context, data any, message string) Envelope {
	return Envelope{Success: true, Data: data, Message: message, Meta: metaFrom(ctx)}
}

// ErrorEnvelope renders an AppError for the wire. Server-side failures carry
// only the user message; the internal one stays in logs.
func ErrorEnvelope(ctx context.Context, err *AppError) Envelope {
	msg := err.Message()
	if err.HTTPStatus() >= http.StatusInternalServerError {
		msg = err.UserMessage()
	}
	return Envelope{
		Success:     false,
		Error:       msg,
		Code:        err.Code(),
		UserMessage: err.UserMessage(),
		Suggestions: err.Suggestions(),
		Details:     err.Details(),
		Meta:        metaFrom(ctx),
	}
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an error envelope using the kind's HTTP status.
// Authentication failures carry a Bearer challenge.
func WriteError(ctx context.Context, w http.ResponseWriter, err *AppError) {
	if err.IsAuthentication() {
		challenge := `Bearer realm="storefront"`
		if err.Kind() == KindTokenExpired {
			challenge += `, error="invalid_token"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
	}
	WriteJSON(w, err.HTTPStatus(), ErrorEnvelope(ctx, err))
}
