// Package gateway wires the request pipeline: trust evaluation, cost routing,
// the upstream call through the streaming relay, tool policy, and accounting.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/akiho/torii/internal/accounting"
	"github.com/akiho/torii/internal/adapter"
	"github.com/akiho/torii/internal/agent"
	"github.com/akiho/torii/internal/config"
	"github.com/akiho/torii/internal/contract"
	"github.com/akiho/torii/internal/limits"
	"github.com/akiho/torii/internal/optimizer"
	"github.com/akiho/torii/internal/policy"
	"github.com/akiho/torii/internal/relay"
	"github.com/akiho/torii/internal/toon"
	"github.com/akiho/torii/internal/trust"
	"github.com/akiho/torii/internal/upstream"
)

type Gateway struct {
	cfg        *config.Config
	upstream   upstream.Caller
	trust      *trust.Evaluator
	policy     *policy.Engine
	optimizer  *optimizer.Optimizer
	accountant *accounting.Accountant
	agents     *agent.Resolver
	limits     *limits.Checker
}

func New(
	cfg *config.Config,
	up upstream.Caller,
	trustEval *trust.Evaluator,
	pol *policy.Engine,
	opt *optimizer.Optimizer,
	acct *accounting.Accountant,
	agents *agent.Resolver,
	lim *limits.Checker,
) *Gateway {
	return &Gateway{
		cfg:        cfg,
		upstream:   up,
		trust:      trustEval,
		policy:     pol,
		optimizer:  opt,
		accountant: acct,
		agents:     agents,
		limits:     lim,
	}
}

// turn carries one request's pipeline state from intake to the record.
type turn struct {
	requestID     string
	agent         agent.Agent
	req           contract.Request
	verdict       trust.Verdict
	stats         toon.Stats
	resolvedModel string
	originalBody  []byte
	transmitted   []byte
}

// prepare runs the pre-call stages: trust evaluation (history rewrite),
// compression, and model routing. The returned wire request is what goes
// upstream.
func (g *Gateway) prepare(ctx context.Context, t *turn, notifier trust.Notifier) openai.ChatCompletionRequest {
	t.verdict = trust.Verdict{ContextTrusted: true}
	msgs := t.req.Messages

	if g.trust != nil && t.agent.DistrustToolContext {
		verdict, err := g.trust.Evaluate(ctx, msgs, notifier)
		if err != nil {
			// a failed checker pass must not grant trust
			slog.Error("Trust evaluation failed", "request_id", t.requestID, "agent", t.agent.ID, "phase", "trust", "error", err)
			verdict = trust.Verdict{ContextTrusted: false}
		}
		t.verdict = verdict
		msgs = trust.ApplyVerdict(msgs, verdict)
	}

	if t.agent.CompressToolPayloads {
		msgs, t.stats = toon.CompressMessages(msgs)
	}

	t.resolvedModel, _ = g.optimizer.Route(t.agent.ID, t.agent.TeamID, t.req.Model, t.req.HasTools())
	if err := g.optimizer.EnsurePriced(ctx, t.req.Model, t.resolvedModel); err != nil {
		slog.Warn("Price seeding failed", "request_id", t.requestID, "phase", "pricing", "error", err)
	}

	upReq := t.req
	upReq.Model = t.resolvedModel
	upReq.Messages = msgs

	wireReq := adapter.ToWireRequest(upReq)
	t.transmitted, _ = json.Marshal(wireReq)
	return wireReq
}

// settle applies tool policy to the assembled turn and returns the message
// and finish reason the client gets.
func (g *Gateway) settle(ctx context.Context, t *turn, res relay.Result) (contract.Message, string, policy.Decision) {
	decision := g.policy.Review(ctx, t.agent.ID, res.Message, t.req.EnabledToolNames(), t.verdict.ContextTrusted)
	if decision.Allowed {
		return res.Message, res.FinishReason, decision
	}
	return decision.Refusal, string(openai.FinishReasonStop), decision
}

// record persists exactly one interaction for the turn.
func (g *Gateway) record(ctx context.Context, t *turn, res relay.Result, final contract.Message, finish string, decision policy.Decision) {
	response := g.buildResponse(t, res, final, finish)
	body, _ := json.Marshal(response)

	g.accountant.Finalize(ctx, accounting.FinalizeInput{
		RequestID:          t.requestID,
		AgentID:            t.agent.ID,
		RequestedModel:     t.req.Model,
		ResolvedModel:      t.resolvedModel,
		OriginalRequest:    string(t.originalBody),
		TransmittedRequest: string(t.transmitted),
		Response:           string(body),
		Usage:              res.Usage,
		Compression:        t.stats,
		BlockedToolCalls:   decision.BlockedCount,
		Aborted:            res.Aborted,
	})
}

// buildResponse renders the settled turn in the non-streaming wire shape; for
// streamed turns this is what the record stores as the delivered response.
func (g *Gateway) buildResponse(t *turn, res relay.Result, final contract.Message, finish string) openai.ChatCompletionResponse {
	id := res.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	created := res.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	model := res.Model
	if model == "" {
		model = t.resolvedModel
	}

	resp := openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionChoice{
			{
				Message:      adapter.ToWireMessage(final),
				FinishReason: openai.FinishReason(finish),
			},
		},
	}
	if res.Usage != nil {
		resp.Usage = openai.Usage{
			PromptTokens:     res.Usage.Input,
			CompletionTokens: res.Usage.Output,
			TotalTokens:      res.Usage.Input + res.Usage.Output,
		}
	}
	return resp
}

// emitTrailing sends the withheld tail of a streamed turn: either the
// assembled tool calls or the policy refusal, then the sentinel.
func (g *Gateway) emitTrailing(sink *sseSink, t *turn, res relay.Result, final contract.Message, finish string, decision policy.Decision) {
	if !decision.Allowed {
		refusalChunk := openai.ChatCompletionStreamResponse{
			ID:      "refusal-" + uuid.NewString(),
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   res.Model,
			Choices: []openai.ChatCompletionStreamChoice{
				{
					Delta: openai.ChatCompletionStreamChoiceDelta{
						Role:    contract.RoleAssistant,
						Content: final.Content,
						Refusal: final.Refusal,
					},
					FinishReason: openai.FinishReasonStop,
				},
			},
		}
		if err := sink.Send(refusalChunk); err != nil {
			slog.Debug("Refusal chunk dropped, client gone", "request_id", t.requestID)
		}
		sink.Done()
		return
	}

	if len(final.ToolCalls) > 0 {
		wireCalls := adapter.ToWireToolCalls(final.ToolCalls)
		for i := range wireCalls {
			idx := i
			wireCalls[i].Index = &idx
		}

		reason := openai.FinishReason(finish)
		if reason == "" {
			reason = openai.FinishReasonToolCalls
		}

		toolChunk := openai.ChatCompletionStreamResponse{
			ID:      res.ID,
			Object:  "chat.completion.chunk",
			Created: res.Created,
			Model:   res.Model,
			Choices: []openai.ChatCompletionStreamChoice{
				{
					Delta:        openai.ChatCompletionStreamChoiceDelta{ToolCalls: wireCalls},
					FinishReason: reason,
				},
			},
		}
		if res.Usage != nil {
			toolChunk.Usage = &openai.Usage{
				PromptTokens:     res.Usage.Input,
				CompletionTokens: res.Usage.Output,
				TotalTokens:      res.Usage.Input + res.Usage.Output,
			}
		}
		if err := sink.Send(toolChunk); err != nil {
			slog.Debug("Tool-call chunk dropped, client gone", "request_id", t.requestID)
		}
	}

	sink.Done()
}
