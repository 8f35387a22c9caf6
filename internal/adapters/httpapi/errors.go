package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
)

// ErrorResponse is the JSON error envelope shared by all endpoints.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code       string                            `json:"code"`
	Message    string                            `json:"message"`
	Details    nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestID  nullable.Nullable[string]         `json:"requestId,omitempty"`
	ResetAt    nullable.Nullable[time.Time]      `json:"resetAt,omitempty"`
	Categories nullable.Nullable[[]string]       `json:"categories,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	writeErrorBody(w, r, status, ErrorBody{Code: code, Message: message, Details: detailsOrNull(details)})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		body.RequestID = nullable.NewNullableWithValue(rid)
	}
	er := ErrorResponse{Error: body}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(er)
}

func detailsOrNull(details map[string]any) nullable.Nullable[map[string]any] {
	if details == nil {
		return nullable.Nullable[map[string]any]{}
	}
	return nullable.NewNullableWithValue(details)
}
