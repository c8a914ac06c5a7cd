package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brickvault/pkg/domerrors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, domerrors.New(domerrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("validation error includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, domerrors.New(domerrors.CodeValidation, "amount must be positive"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "validation" {
			t.Fatalf("expected error code validation, got %q", body["error"])
		}
		if body["error_description"] != "amount must be positive" {
			t.Fatalf("expected error_description to be returned for validation errors")
		}
	})

	t.Run("status mapping", func(t *testing.T) {
		cases := []struct {
			code   domerrors.Code
			status int
		}{
			{domerrors.CodeUnauthorized, http.StatusForbidden},
			{domerrors.CodeNotFound, http.StatusNotFound},
			{domerrors.CodeConflict, http.StatusConflict},
			{domerrors.CodeAlreadyActed, http.StatusConflict},
			{domerrors.CodeInvalidState, http.StatusUnprocessableEntity},
			{domerrors.CodeExpired, http.StatusUnprocessableEntity},
			{domerrors.CodeInsufficientWeight, http.StatusUnprocessableEntity},
			{domerrors.CodeZeroShares, http.StatusUnprocessableEntity},
			{domerrors.CodeZeroAmount, http.StatusUnprocessableEntity},
			{domerrors.CodeBadRequest, http.StatusBadRequest},
		}
		for _, tc := range cases {
			w := httptest.NewRecorder()
			WriteError(w, domerrors.New(tc.code, "x"))
			if w.Code != tc.status {
				t.Errorf("code %s: expected status %d, got %d", tc.code, tc.status, w.Code)
			}
		}
	})

	t.Run("uncoded error maps to internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, http.ErrHandlerTimeout)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestDecode(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body decodes", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))

		got, ok := Decode[payload](w, r, nil)
		if !ok {
			t.Fatalf("expected decode to succeed")
		}
		if got.Name != "x" {
			t.Fatalf("expected name x, got %q", got.Name)
		}
	})

	t.Run("malformed body writes bad_request", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))

		_, ok := Decode[payload](w, r, nil)
		if ok {
			t.Fatalf("expected decode to fail")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}
