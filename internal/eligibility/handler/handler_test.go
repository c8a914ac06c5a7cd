package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"brickvault/internal/eligibility"
	"brickvault/internal/eligibility/store"
	"brickvault/internal/platform/logger"
	"brickvault/internal/platform/middleware"
)

const signingKey = "test-signing-key"

var (
	investor = common.HexToAddress("0xa000000000000000000000000000000000000001")
	oracle   = common.HexToAddress("0x0c00000000000000000000000000000000000001")
)

func newRouter(t *testing.T) *chi.Mux {
	t.Helper()
	log := logger.New()
	service, err := eligibility.New(store.NewMemoryStore(), nil, log)
	if err != nil {
		t.Fatalf("building eligibility service: %v", err)
	}

	auth := middleware.NewAuthenticator(signingKey, log)
	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		New(service, log).Register(r)
	})
	return router
}

func bearerToken(t *testing.T, addr common.Address, roles ...string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Address: addr.Hex(),
		Roles:   roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func do(t *testing.T, router http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshaling payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func setTier(t *testing.T, router http.Handler, tier string) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/eligibility", bearerToken(t, oracle, "oracle"), map[string]string{
		"account":      investor.Hex(),
		"tier":         tier,
		"evidence_ref": "kyc-batch-7",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 setting tier %s, got %d: %s", tier, rec.Code, rec.Body.String())
	}
}

func TestIsAtLeastViaHandler(t *testing.T) {
	router := newRouter(t)
	setTier(t, router, "BASIC")
	setTier(t, router, "STANDARD")
	token := bearerToken(t, investor)

	var resp struct {
		Account string `json:"account"`
		Tier    string `json:"tier"`
		AtLeast bool   `json:"at_least"`
	}

	t.Run("holder meets a lower threshold", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/eligibility/"+investor.Hex()+"/at-least/BASIC", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if !resp.AtLeast || resp.Tier != "BASIC" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("holder misses a higher threshold", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/eligibility/"+investor.Hex()+"/at-least/ENHANCED", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.AtLeast {
			t.Fatalf("STANDARD holder reported at least ENHANCED")
		}
	})

	t.Run("unknown account is below every tier", func(t *testing.T) {
		other := common.HexToAddress("0xb000000000000000000000000000000000000002")
		rec := do(t, router, http.MethodGet, "/eligibility/"+other.Hex()+"/at-least/BASIC", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.AtLeast {
			t.Fatalf("unknown account reported eligible")
		}
	})

	t.Run("unknown tier is rejected", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/eligibility/"+investor.Hex()+"/at-least/PLATINUM", token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for unknown tier, got %d", rec.Code)
		}
	})

	t.Run("requires authentication", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/eligibility/"+investor.Hex()+"/at-least/BASIC", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 without a token, got %d", rec.Code)
		}
	})
}
