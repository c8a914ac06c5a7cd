package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"brickvault/internal/shares"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/httputil"
	"brickvault/pkg/requestcontext"
)

// Mirror is the write path for observed transfers.
type Mirror interface {
	Ingest(ctx context.Context, t shares.Transfer) error
}

// LedgerView is the read side of the checkpointed ledger.
type LedgerView interface {
	CurrentBlock() uint64
	BalanceOf(token, account common.Address) *big.Int
	TotalSupply(token common.Address) *big.Int
	BalanceAt(token, account common.Address, block uint64) *big.Int
	TotalSupplyAt(token common.Address, block uint64) *big.Int
}

type Handler struct {
	mirror Mirror
	ledger LedgerView
	logger *slog.Logger
}

func New(mirror Mirror, ledger LedgerView, logger *slog.Logger) *Handler {
	return &Handler{mirror: mirror, ledger: ledger, logger: logger}
}

// Register mounts ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/ledger/transfers", h.HandleIngestTransfer)
	r.Get("/ledger/head", h.HandleHead)
	r.Get("/ledger/{token}/supply", h.HandleTotalSupply)
	r.Get("/ledger/{token}/balances/{account}", h.HandleBalance)
}

type ingestTransferRequest struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Block  uint64 `json:"block"`
}

// HandleIngestTransfer handles POST /ledger/transfers (oracle only).
// A zero from address is a mint, a zero to address is a burn.
func (h *Handler) HandleIngestTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[ingestTransferRequest](w, r, h.logger)
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

	t := shares.Transfer{
		Token:  token,
		Amount: amount,
		Block:  req.Block,
	}
	if req.From != "" {
		from, ok := parseAddress(w, req.From, "from")
		if !ok {
			return
		}
		t.From = from
	}
	if req.To != "" {
		to, ok := parseAddress(w, req.To, "to")
		if !ok {
			return
		}
		t.To = to
	}

	if err := h.mirror.Ingest(ctx, t); err != nil {
		h.logger.ErrorContext(ctx, "transfer ingest failed",
			"request_id", requestcontext.RequestID(ctx),
			"token", req.Token,
			"block", req.Block,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]uint64{"head_block": h.ledger.CurrentBlock()})
}

// HandleHead handles GET /ledger/head.
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]uint64{"head_block": h.ledger.CurrentBlock()})
}

// HandleBalance handles GET /ledger/{token}/balances/{account}. An optional
// ?block= query returns the checkpointed balance at that height.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}

	balance := h.ledger.BalanceOf(token, account)
	if raw := r.URL.Query().Get("block"); raw != "" {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "block must be a non-negative integer"))
			return
		}
		balance = h.ledger.BalanceAt(token, account, block)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"account": account.Hex(),
		"balance": balance.String(),
	})
}

// HandleTotalSupply handles GET /ledger/{token}/supply with the same
// optional ?block= query as balances.
func (h *Handler) HandleTotalSupply(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}

	supply := h.ledger.TotalSupply(token)
	if raw := r.URL.Query().Get("block"); raw != "" {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "block must be a non-negative integer"))
			return
		}
		supply = h.ledger.TotalSupplyAt(token, block)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":  token.Hex(),
		"supply": supply.String(),
	})
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
