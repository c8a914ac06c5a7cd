package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"brickvault/pkg/domerrors"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape for all error responses.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError maps a coded domain error onto an HTTP response. Internal errors
// omit the description so infrastructure detail never leaks to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := domerrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != domerrors.CodeInternal {
		body.Description = domerrors.MessageOf(err)
	}
	WriteJSON(w, statusFor(code), body)
}

func statusFor(code domerrors.Code) int {
	switch code {
	case domerrors.CodeUnauthorized:
		return http.StatusForbidden
	case domerrors.CodeNotFound:
		return http.StatusNotFound
	case domerrors.CodeConflict, domerrors.CodeAlreadyActed:
		return http.StatusConflict
	case domerrors.CodeInvalidState, domerrors.CodeExpired:
		return http.StatusUnprocessableEntity
	case domerrors.CodeInsufficientWeight, domerrors.CodeZeroShares, domerrors.CodeZeroAmount:
		return http.StatusUnprocessableEntity
	case domerrors.CodeValidation, domerrors.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Decode parses the request body into T. On failure it writes a bad_request
// response and returns ok=false; handlers should simply return.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.DebugContext(r.Context(), "request decode failed", "error", err)
		}
		WriteError(w, domerrors.New(domerrors.CodeBadRequest, "malformed JSON body"))
		var zero T
		return zero, false
	}
	return req, true
}
