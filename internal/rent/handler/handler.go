package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"brickvault/internal/rent"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/httputil"
	"brickvault/pkg/requestcontext"
)

// Service defines the distributor operations the HTTP surface needs.
type Service interface {
	RegisterProperty(ctx context.Context, token, paymentAsset common.Address) (rent.Property, error)
	SetPropertyActive(ctx context.Context, token common.Address, active bool) (rent.Property, error)
	DepositRent(ctx context.Context, token common.Address, amount *big.Int) (rent.Property, error)
	PendingRent(ctx context.Context, account, token common.Address) (*big.Int, error)
	ClaimRent(ctx context.Context, token common.Address) (rent.Claim, error)
	ClaimAllRent(ctx context.Context, tokens []common.Address) ([]rent.Claim, error)
	PositionOf(ctx context.Context, account, token common.Address) (rent.Position, error)
	GetProperty(ctx context.Context, token common.Address) (rent.Property, error)
	ListProperties(ctx context.Context) ([]rent.Property, error)
}

// Handler wires rent distribution endpoints to the distributor service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts rent endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/rent/properties", h.HandleRegisterProperty)
	r.Post("/rent/properties/{token}/active", h.HandleSetActive)
	r.Get("/rent/properties", h.HandleListProperties)
	r.Get("/rent/properties/{token}", h.HandleGetProperty)
	r.Post("/rent/deposits", h.HandleDeposit)
	r.Get("/rent/pending/{token}/{account}", h.HandlePending)
	r.Get("/rent/positions/{token}/{account}", h.HandlePosition)
	r.Post("/rent/claims", h.HandleClaim)
}

type registerPropertyRequest struct {
	Token        string `json:"token"`
	PaymentAsset string `json:"payment_asset"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type depositRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type claimRequest struct {
	Tokens []string `json:"tokens"`
}

type propertyResponse struct {
	Token                string `json:"token"`
	PaymentAsset         string `json:"payment_asset"`
	TotalDistributed     string `json:"total_distributed"`
	AccRewardPerShare    string `json:"acc_reward_per_share"`
	LastDistributionTime string `json:"last_distribution_time,omitempty"`
	Active               bool   `json:"is_active"`
}

type positionResponse struct {
	Account           string `json:"account"`
	Token             string `json:"token"`
	RewardDebt        string `json:"reward_debt"`
	PendingAtLastSync string `json:"pending_at_last_sync"`
	TotalClaimed      string `json:"total_claimed"`
	LastClaimTime     string `json:"last_claim_time,omitempty"`
}

type claimResponse struct {
	Token        string `json:"token"`
	PaymentAsset string `json:"payment_asset"`
	Amount       string `json:"amount"`
	ClaimedAt    string `json:"claimed_at"`
}

func fromProperty(p rent.Property) propertyResponse {
	resp := propertyResponse{
		Token:             p.Token.Hex(),
		PaymentAsset:      p.PaymentAsset.Hex(),
		TotalDistributed:  p.TotalDistributed.String(),
		AccRewardPerShare: p.AccRewardPerShare.String(),
		Active:            p.Active,
	}
	if !p.LastDistributionTime.IsZero() {
		resp.LastDistributionTime = p.LastDistributionTime.Format(time.RFC3339)
	}
	return resp
}

func fromPosition(p rent.Position) positionResponse {
	resp := positionResponse{
		Account:           p.Account.Hex(),
		Token:             p.Token.Hex(),
		RewardDebt:        p.RewardDebt.String(),
		PendingAtLastSync: p.PendingAtLastSync.String(),
		TotalClaimed:      p.TotalClaimed.String(),
	}
	if !p.LastClaimTime.IsZero() {
		resp.LastClaimTime = p.LastClaimTime.Format(time.RFC3339)
	}
	return resp
}

func fromClaim(c rent.Claim) claimResponse {
	return claimResponse{
		Token:        c.Token.Hex(),
		PaymentAsset: c.PaymentAsset.Hex(),
		Amount:       c.Amount.String(),
		ClaimedAt:    c.ClaimedAt.Format(time.RFC3339),
	}
}

// HandleRegisterProperty handles POST /rent/properties (admin only).
func (h *Handler) HandleRegisterProperty(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerPropertyRequest](w, r, h.logger)
	if !ok {
		return
	}
	token, ok := parseAddress(w, req.Token, "token")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.PaymentAsset, "payment_asset")
	if !ok {
		return
	}

	property, err := h.service.RegisterProperty(r.Context(), token, asset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromProperty(property))
}

// HandleSetActive handles POST /rent/properties/{token}/active (admin only).
func (h *Handler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	req, ok := httputil.Decode[setActiveRequest](w, r, h.logger)
	if !ok {
		return
	}
	property, err := h.service.SetPropertyActive(r.Context(), token, req.Active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProperty(property))
}

// HandleListProperties handles GET /rent/properties.
func (h *Handler) HandleListProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := h.service.ListProperties(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]propertyResponse, 0, len(properties))
	for _, p := range properties {
		out = append(out, fromProperty(p))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleGetProperty handles GET /rent/properties/{token}.
func (h *Handler) HandleGetProperty(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	property, err := h.service.GetProperty(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProperty(property))
}

// HandleDeposit handles POST /rent/deposits (rent collector only).
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[depositRequest](w, r, h.logger)
	if !ok {
		return
	}
	token, ok := parseAddress(w, req.Token, "token")
	if !ok {
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "amount must be a base-10 integer"))
		return
	}

	property, err := h.service.DepositRent(ctx, token, amount)
	if err != nil {
		h.logger.ErrorContext(ctx, "rent deposit failed",
			"request_id", requestcontext.RequestID(ctx),
			"token", req.Token,
			"amount", req.Amount,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProperty(property))
}

// HandlePending handles GET /rent/pending/{token}/{account}.
func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	pending, err := h.service.PendingRent(r.Context(), account, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"account": account.Hex(),
		"pending": pending.String(),
	})
}

// HandlePosition handles GET /rent/positions/{token}/{account}.
func (h *Handler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	position, err := h.service.PositionOf(r.Context(), account, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromPosition(position))
}

// HandleClaim handles POST /rent/claims for the authenticated caller.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[claimRequest](w, r, h.logger)
	if !ok {
		return
	}
	tokens := make([]common.Address, 0, len(req.Tokens))
	for _, raw := range req.Tokens {
		token, ok := parseAddress(w, raw, "tokens")
		if !ok {
			return
		}
		tokens = append(tokens, token)
	}

	claims, err := h.service.ClaimAllRent(ctx, tokens)
	if err != nil {
		h.logger.ErrorContext(ctx, "rent claim failed",
			"request_id", requestcontext.RequestID(ctx),
			"caller", requestcontext.Caller(ctx).Hex(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	out := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, fromClaim(c))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func parseAddress(w http.ResponseWriter, raw, field string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		httputil.WriteError(w, domerrors.Newf(domerrors.CodeValidation, "%s must be a hex address", field))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (common.Address, bool) {
	return parseAddress(w, chi.URLParam(r, param), param)
}
