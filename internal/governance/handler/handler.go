package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"brickvault/internal/governance"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/httputil"
	"brickvault/pkg/requestcontext"
)

// Service defines the governance operations the HTTP surface needs.
type Service interface {
	RegisterToken(ctx context.Context, token common.Address, settings governance.Settings) error
	GetSettings(ctx context.Context, token common.Address) (governance.Settings, error)
	CreateProposal(ctx context.Context, req governance.CreateProposalRequest) (governance.Proposal, error)
	CastVoteWithReason(ctx context.Context, proposalID uint64, support governance.Support, reason string) (governance.VoteReceipt, error)
	Queue(ctx context.Context, proposalID uint64) (governance.Proposal, error)
	Execute(ctx context.Context, proposalID uint64) (governance.Proposal, error)
	Cancel(ctx context.Context, proposalID uint64) (governance.Proposal, error)
	State(ctx context.Context, proposalID uint64) (governance.State, error)
	GetProposal(ctx context.Context, proposalID uint64) (governance.Proposal, governance.State, error)
	GetReceipt(ctx context.Context, proposalID uint64, voter common.Address) (governance.VoteReceipt, error)
	ListProposals(ctx context.Context, token common.Address) ([]governance.Proposal, []governance.State, error)
}

// Handler wires governance endpoints to the engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts governance endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/governance/tokens", h.HandleRegisterToken)
	r.Get("/governance/tokens/{token}/settings", h.HandleGetSettings)
	r.Get("/governance/tokens/{token}/proposals", h.HandleListProposals)
	r.Post("/governance/proposals", h.HandleCreateProposal)
	r.Get("/governance/proposals/{id}", h.HandleGetProposal)
	r.Get("/governance/proposals/{id}/state", h.HandleState)
	r.Get("/governance/proposals/{id}/receipts/{voter}", h.HandleGetReceipt)
	r.Post("/governance/proposals/{id}/votes", h.HandleCastVote)
	r.Post("/governance/proposals/{id}/queue", h.HandleQueue)
	r.Post("/governance/proposals/{id}/execute", h.HandleExecute)
	r.Post("/governance/proposals/{id}/cancel", h.HandleCancel)
}

type settingsWire struct {
	VotingDelaySeconds   int64  `json:"voting_delay_seconds"`
	VotingPeriodSeconds  int64  `json:"voting_period_seconds"`
	ProposalThresholdBps uint32 `json:"proposal_threshold_bps"`
	QuorumThresholdBps   uint32 `json:"quorum_threshold_bps"`
	ExecutionDelaySecs   int64  `json:"execution_delay_seconds"`
	GracePeriodSeconds   int64  `json:"grace_period_seconds"`
}

func (w settingsWire) toSettings() governance.Settings {
	return governance.Settings{
		VotingDelay:          time.Duration(w.VotingDelaySeconds) * time.Second,
		VotingPeriod:         time.Duration(w.VotingPeriodSeconds) * time.Second,
		ProposalThresholdBps: w.ProposalThresholdBps,
		QuorumThresholdBps:   w.QuorumThresholdBps,
		ExecutionDelay:       time.Duration(w.ExecutionDelaySecs) * time.Second,
		GracePeriod:          time.Duration(w.GracePeriodSeconds) * time.Second,
	}
}

func fromSettings(s governance.Settings) settingsWire {
	return settingsWire{
		VotingDelaySeconds:   int64(s.VotingDelay / time.Second),
		VotingPeriodSeconds:  int64(s.VotingPeriod / time.Second),
		ProposalThresholdBps: s.ProposalThresholdBps,
		QuorumThresholdBps:   s.QuorumThresholdBps,
		ExecutionDelaySecs:   int64(s.ExecutionDelay / time.Second),
		GracePeriodSeconds:   int64(s.GracePeriod / time.Second),
	}
}

type registerTokenRequest struct {
	Token string `json:"token"`
	settingsWire
}

type createProposalRequest struct {
	SubjectToken    string `json:"subject_token"`
	Type            string `json:"type"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	EvidenceHash    string `json:"evidence_hash,omitempty"`
	ExecutionTarget string `json:"execution_target,omitempty"`
	ExecutionData   string `json:"execution_data,omitempty"`
	ExecutionValue  string `json:"execution_value,omitempty"`
}

type castVoteRequest struct {
	Support string `json:"support"`
	Reason  string `json:"reason,omitempty"`
}

type proposalResponse struct {
	ID              uint64 `json:"id"`
	Proposer        string `json:"proposer"`
	SubjectToken    string `json:"subject_token"`
	Type            string `json:"type"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	EvidenceHash    string `json:"evidence_hash"`
	ForVotes        string `json:"for_votes"`
	AgainstVotes    string `json:"against_votes"`
	AbstainVotes    string `json:"abstain_votes"`
	SnapshotBlock   uint64 `json:"snapshot_block"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	ExecutionTime   string `json:"execution_time,omitempty"`
	ExecutionTarget string `json:"execution_target"`
	ExecutionData   string `json:"execution_data,omitempty"`
	ExecutionValue  string `json:"execution_value"`
	Executed        bool   `json:"executed"`
	Canceled        bool   `json:"canceled"`
	State           string `json:"state,omitempty"`
}

type receiptResponse struct {
	ProposalID uint64 `json:"proposal_id"`
	Voter      string `json:"voter"`
	HasVoted   bool   `json:"has_voted"`
	Support    string `json:"support,omitempty"`
	Weight     string `json:"weight"`
	Reason     string `json:"reason,omitempty"`
	CastAt     string `json:"cast_at,omitempty"`
}

func fromProposal(p governance.Proposal, state governance.State) proposalResponse {
	resp := proposalResponse{
		ID:              p.ID,
		Proposer:        p.Proposer.Hex(),
		SubjectToken:    p.SubjectToken.Hex(),
		Type:            string(p.Type),
		Title:           p.Title,
		Description:     p.Description,
		EvidenceHash:    p.EvidenceHash.Hex(),
		ForVotes:        p.ForVotes.String(),
		AgainstVotes:    p.AgainstVotes.String(),
		AbstainVotes:    p.AbstainVotes.String(),
		SnapshotBlock:   p.SnapshotBlock,
		StartTime:       p.StartTime.Format(time.RFC3339),
		EndTime:         p.EndTime.Format(time.RFC3339),
		ExecutionTarget: p.ExecutionTarget.Hex(),
		ExecutionValue:  p.ExecutionValue.String(),
		Executed:        p.Executed,
		Canceled:        p.Canceled,
		State:           string(state),
	}
	if !p.ExecutionTime.IsZero() {
		resp.ExecutionTime = p.ExecutionTime.Format(time.RFC3339)
	}
	if len(p.ExecutionData) > 0 {
		resp.ExecutionData = hexutil.Encode(p.ExecutionData)
	}
	return resp
}

func fromReceipt(r governance.VoteReceipt) receiptResponse {
	resp := receiptResponse{
		ProposalID: r.ProposalID,
		Voter:      r.Voter.Hex(),
		HasVoted:   r.HasVoted,
		Weight:     r.Weight.String(),
		Reason:     r.Reason,
	}
	if r.HasVoted {
		resp.Support = r.Support.String()
		resp.CastAt = r.CastAt.Format(time.RFC3339)
	}
	return resp
}

// HandleRegisterToken handles POST /governance/tokens (admin only).
func (h *Handler) HandleRegisterToken(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerTokenRequest](w, r, h.logger)
	if !ok {
		return
	}
	token, ok := parseAddress(w, req.Token, "token")
	if !ok {
		return
	}
	if err := h.service.RegisterToken(r.Context(), token, req.toSettings()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"token": token.Hex()})
}

// HandleGetSettings handles GET /governance/tokens/{token}/settings.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	settings, err := h.service.GetSettings(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromSettings(settings))
}

// HandleCreateProposal handles POST /governance/proposals.
func (h *Handler) HandleCreateProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[createProposalRequest](w, r, h.logger)
	if !ok {
		return
	}
	token, ok := parseAddress(w, req.SubjectToken, "subject_token")
	if !ok {
		return
	}

	domainReq := governance.CreateProposalRequest{
		SubjectToken: token,
		Type:         governance.ProposalType(req.Type),
		Title:        req.Title,
		Description:  req.Description,
	}
	if req.EvidenceHash != "" {
		domainReq.EvidenceHash = common.HexToHash(req.EvidenceHash)
	}
	if req.ExecutionTarget != "" {
		target, ok := parseAddress(w, req.ExecutionTarget, "execution_target")
		if !ok {
			return
		}
		domainReq.ExecutionTarget = target
	}
	if req.ExecutionData != "" {
		data, err := hexutil.Decode(req.ExecutionData)
		if err != nil {
			httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "execution_data must be 0x-prefixed hex"))
			return
		}
		domainReq.ExecutionData = data
	}
	if req.ExecutionValue != "" {
		value, ok := new(big.Int).SetString(req.ExecutionValue, 10)
		if !ok {
			httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "execution_value must be a base-10 integer"))
			return
		}
		domainReq.ExecutionValue = value
	}

	proposal, err := h.service.CreateProposal(ctx, domainReq)
	if err != nil {
		h.logger.ErrorContext(ctx, "create proposal failed",
			"request_id", requestcontext.RequestID(ctx),
			"token", req.SubjectToken,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromProposal(proposal, governance.StatePending))
}

// HandleCastVote handles POST /governance/proposals/{id}/votes.
func (h *Handler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	proposalID, ok := pathProposalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[castVoteRequest](w, r, h.logger)
	if !ok {
		return
	}
	support, err := governance.ParseSupport(req.Support)
	if err != nil {
		httputil.WriteError(w, domerrors.Wrap(err, domerrors.CodeValidation, "invalid support"))
		return
	}

	receipt, err := h.service.CastVoteWithReason(ctx, proposalID, support, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromReceipt(receipt))
}

// HandleQueue handles POST /governance/proposals/{id}/queue.
func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Queue)
}

// HandleExecute handles POST /governance/proposals/{id}/execute.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Execute)
}

// HandleCancel handles POST /governance/proposals/{id}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uint64) (governance.Proposal, error)) {
	ctx := r.Context()
	proposalID, ok := pathProposalID(w, r)
	if !ok {
		return
	}
	proposal, err := op(ctx, proposalID)
	if err != nil {
		h.logger.ErrorContext(ctx, "proposal transition failed",
			"request_id", requestcontext.RequestID(ctx),
			"proposal_id", proposalID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	state, err := h.service.State(ctx, proposalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProposal(proposal, state))
}

// HandleGetProposal handles GET /governance/proposals/{id}.
func (h *Handler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathProposalID(w, r)
	if !ok {
		return
	}
	proposal, state, err := h.service.GetProposal(r.Context(), proposalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProposal(proposal, state))
}

// HandleState handles GET /governance/proposals/{id}/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathProposalID(w, r)
	if !ok {
		return
	}
	state, err := h.service.State(r.Context(), proposalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"state": string(state)})
}

// HandleGetReceipt handles GET /governance/proposals/{id}/receipts/{voter}.
func (h *Handler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathProposalID(w, r)
	if !ok {
		return
	}
	voter, ok := pathAddress(w, r, "voter")
	if !ok {
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), proposalID, voter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromReceipt(receipt))
}

// HandleListProposals handles GET /governance/tokens/{token}/proposals.
func (h *Handler) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	proposals, states, err := h.service.ListProposals(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]proposalResponse, 0, len(proposals))
	for i, p := range proposals {
		out = append(out, fromProposal(p, states[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func pathProposalID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		httputil.WriteError(w, domerrors.New(domerrors.CodeValidation, "proposal id must be a positive integer"))
		return 0, false
	}
	return id, true
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
