package shares

import (
	"context"
	"fmt"
	"log/slog"

	"brickvault/internal/audit"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/requestcontext"
)

// Journal persists the transfer feed so the ledger can be rebuilt on startup.
type Journal interface {
	Append(ctx context.Context, t Transfer) error
	Replay(ctx context.Context, fn func(Transfer) error) error
}

// Mirror ingests transfer events observed on the share tokens and keeps the
// in-memory ledger and the durable journal in step. Rebuild must run before
// any balance hooks are registered: replayed transfers restore checkpoints
// only, downstream positions come from their own stores.
type Mirror struct {
	ledger  *Ledger
	journal Journal
	emitter audit.Emitter
	logger  *slog.Logger
}

func NewMirror(ledger *Ledger, journal Journal, emitter audit.Emitter, logger *slog.Logger) *Mirror {
	return &Mirror{ledger: ledger, journal: journal, emitter: emitter, logger: logger}
}

// Rebuild replays the journal into the ledger.
func (m *Mirror) Rebuild(ctx context.Context) error {
	var count int
	err := m.journal.Replay(ctx, func(t Transfer) error {
		count++
		return m.ledger.ApplyTransfer(ctx, t)
	})
	if err != nil {
		return fmt.Errorf("rebuilding ledger from journal: %w", err)
	}
	m.logger.InfoContext(ctx, "ledger rebuilt",
		"transfers", count,
		"head_block", m.ledger.CurrentBlock(),
	)
	return nil
}

// Ingest records one observed transfer. Only the chain oracle may submit.
// The ledger validates and applies first; a journal write failure after a
// successful apply is surfaced so the submitter retries under the same block.
func (m *Mirror) Ingest(ctx context.Context, t Transfer) error {
	if !requestcontext.HasRole(ctx, requestcontext.RoleOracle) {
		return domerrors.New(domerrors.CodeUnauthorized, "oracle role required")
	}
	if err := m.ledger.ApplyTransfer(ctx, t); err != nil {
		return err
	}
	if err := m.journal.Append(ctx, t); err != nil {
		m.logger.ErrorContext(ctx, "journal append failed after ledger apply",
			"token", t.Token.Hex(),
			"block", t.Block,
			"error", err,
		)
		return domerrors.Wrap(err, domerrors.CodeInternal, "persisting transfer")
	}

	m.emitter.Emit(ctx, audit.Event{
		Actor:   requestcontext.Caller(ctx),
		Action:  audit.ActionTransferMirrored,
		Subject: t.Token.Hex(),
		Detail: map[string]string{
			"from":   t.From.Hex(),
			"to":     t.To.Hex(),
			"amount": t.Amount.String(),
			"block":  fmt.Sprintf("%d", t.Block),
		},
	})
	return nil
}

// Ledger exposes the read side for callers that only hold the mirror.
func (m *Mirror) Ledger() *Ledger {
	return m.ledger
}
