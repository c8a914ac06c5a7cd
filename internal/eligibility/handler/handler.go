package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"brickvault/internal/eligibility"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/httputil"
	"brickvault/pkg/requestcontext"
)

// Service defines the eligibility operations the HTTP surface needs.
type Service interface {
	TierOf(ctx context.Context, account common.Address) (eligibility.Tier, error)
	IsAtLeast(ctx context.Context, account common.Address, tier eligibility.Tier) (bool, error)
	SetTier(ctx context.Context, account common.Address, tier eligibility.Tier, evidenceRef string) (eligibility.Record, error)
	History(ctx context.Context, account common.Address) ([]eligibility.HistoryEntry, error)
}

// Handler wires eligibility endpoints to the gate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts eligibility endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/eligibility/{account}", h.HandleTierOf)
	r.Get("/eligibility/{account}/at-least/{tier}", h.HandleIsAtLeast)
	r.Get("/eligibility/{account}/history", h.HandleHistory)
	r.Post("/eligibility", h.HandleSetTier)
}

type setTierRequest struct {
	Account     string `json:"account"`
	Tier        string `json:"tier"`
	EvidenceRef string `json:"evidence_ref"`
}

type recordResponse struct {
	Account     string `json:"account"`
	Tier        string `json:"tier"`
	VerifiedAt  string `json:"verified_at,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

type historyEntryResponse struct {
	FromTier    string `json:"from_tier"`
	ToTier      string `json:"to_tier"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
	ChangedAt   string `json:"changed_at"`
}

// HandleTierOf handles GET /eligibility/{account}.
func (h *Handler) HandleTierOf(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	tier, err := h.service.TierOf(r.Context(), account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordResponse{
		Account: account.Hex(),
		Tier:    tier.String(),
	})
}

type atLeastResponse struct {
	Account string `json:"account"`
	Tier    string `json:"tier"`
	AtLeast bool   `json:"at_least"`
}

// HandleIsAtLeast handles GET /eligibility/{account}/at-least/{tier}: the
// threshold check listing and registry surfaces gate on.
func (h *Handler) HandleIsAtLeast(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	tier, err := eligibility.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		httputil.WriteError(w, domerrors.Wrap(err, domerrors.CodeValidation, "invalid tier"))
		return
	}
	atLeast, err := h.service.IsAtLeast(r.Context(), account, tier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, atLeastResponse{
		Account: account.Hex(),
		Tier:    tier.String(),
		AtLeast: atLeast,
	})
}

// HandleHistory handles GET /eligibility/{account}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryResponse{
			FromTier:    e.FromTier.String(),
			ToTier:      e.ToTier.String(),
			EvidenceRef: e.EvidenceRef,
			ChangedAt:   e.ChangedAt.Format(time.RFC3339),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleSetTier handles POST /eligibility (verification oracle only).
func (h *Handler) HandleSetTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[setTierRequest](w, r, h.logger)
	if !ok {
		return
	}
	if !common.IsHexAddress(req.Account) {
		httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "account must be a hex address"))
		return
	}
	tier, err := eligibility.ParseTier(req.Tier)
	if err != nil {
		httputil.WriteError(w, domerrors.Wrap(err, domerrors.CodeValidation, "invalid tier"))
		return
	}

	record, err := h.service.SetTier(ctx, common.HexToAddress(req.Account), tier, req.EvidenceRef)
	if err != nil {
		h.logger.ErrorContext(ctx, "set tier failed",
			"request_id", requestcontext.RequestID(ctx),
			"account", req.Account,
			"tier", req.Tier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := recordResponse{
		Account:     record.Account.Hex(),
		Tier:        record.Tier.String(),
		VerifiedAt:  record.VerifiedAt.Format(time.RFC3339),
		EvidenceRef: record.EvidenceRef,
	}
	if !record.ExpiresAt.IsZero() {
		resp.ExpiresAt = record.ExpiresAt.Format(time.RFC3339)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func pathAccount(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "account must be a hex address"))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
