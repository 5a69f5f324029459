// Package accounting turns provider telemetry into the durable audit trail.
package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/akiho/torii/internal/contract"
	"github.com/akiho/torii/internal/optimizer"
	"github.com/akiho/torii/internal/toon"
)

// FinalizeInput is everything the accountant needs after the turn settled.
type FinalizeInput struct {
	RequestID          string
	AgentID            string
	RequestedModel     string
	ResolvedModel      string
	OriginalRequest    string
	TransmittedRequest string
	Response           string
	Usage              *contract.Usage
	Compression        toon.Stats
	BlockedToolCalls   int
	Aborted            bool
}

type Accountant struct {
	store     *Store
	optimizer *optimizer.Optimizer
}

func NewAccountant(store *Store, opt *optimizer.Optimizer) *Accountant {
	return &Accountant{store: store, optimizer: opt}
}

// Finalize computes both cost figures and persists the record. The baseline
// uses the originally requested model's price, the optimized figure the model
// that actually produced the response; without substitution they are equal.
// Persistence failure is reported but never unwinds an already-delivered
// response, and a cancelled request context must not stop the write.
func (a *Accountant) Finalize(ctx context.Context, in FinalizeInput) InteractionRecord {
	ctx = context.WithoutCancel(ctx)

	rec := InteractionRecord{
		ID:                 in.RequestID,
		AgentID:            in.AgentID,
		RequestedModel:     in.RequestedModel,
		ResolvedModel:      in.ResolvedModel,
		OriginalRequest:    in.OriginalRequest,
		TransmittedRequest: in.TransmittedRequest,
		Response:           in.Response,
		Compression:        in.Compression,
		BlockedToolCalls:   in.BlockedToolCalls,
		Aborted:            in.Aborted,
		CreatedAt:          time.Now().UTC(),
	}

	if in.Usage != nil {
		input, output := in.Usage.Input, in.Usage.Output
		rec.InputTokens = &input
		rec.OutputTokens = &output
	}

	baseline, err := a.optimizer.Quote(ctx, in.RequestedModel, in.Usage)
	if err != nil {
		slog.Error("Baseline quote failed", "request_id", in.RequestID, "model", in.RequestedModel, "error", err)
	}
	rec.BaselineCost = baseline.Cost

	if in.ResolvedModel == in.RequestedModel {
		rec.OptimizedCost = baseline.Cost
	} else {
		optimized, err := a.optimizer.Quote(ctx, in.ResolvedModel, in.Usage)
		if err != nil {
			slog.Error("Optimized quote failed", "request_id", in.RequestID, "model", in.ResolvedModel, "error", err)
		}
		rec.OptimizedCost = optimized.Cost
	}

	if err := a.store.InsertInteraction(ctx, rec); err != nil {
		slog.Error("Interaction persistence failed", "request_id", in.RequestID, "agent", in.AgentID, "error", err)
	}

	return rec
}
