package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"brickvault/pkg/requestcontext"
)

// Claims are the JWT claims the core expects from the marketplace's identity
// layer: the caller's on-chain address plus role claims for privileged
// collaborators (oracle, rent collector, admin).
type Claims struct {
	jwt.RegisteredClaims
	Address string   `json:"addr"`
	Roles   []string `json:"roles,omitempty"`
}

// Authenticator validates bearer tokens and populates the request context
// with the caller address and roles.
type Authenticator struct {
	signingKey []byte
	logger     *slog.Logger
}

func NewAuthenticator(signingKey string, logger *slog.Logger) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey), logger: logger}
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !common.IsHexAddress(claims.Address) {
		return nil, fmt.Errorf("token missing caller address")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and injects the
// caller identity into the context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			a.logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", requestcontext.RequestID(ctx),
			)
			writeUnauthorized(w, "Missing or invalid Authorization header")
			return
		}

		claims, err := a.parse(token)
		if err != nil {
			a.logger.WarnContext(ctx, "unauthorized access - invalid token",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = requestcontext.WithCaller(ctx, common.HexToAddress(claims.Address))
		ctx = requestcontext.WithRoles(ctx, claims.Roles...)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, description)
}
