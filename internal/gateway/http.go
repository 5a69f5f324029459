package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/akiho/torii/internal/adapter"
	toriiErrors "github.com/akiho/torii/internal/errors"
	"github.com/akiho/torii/internal/logger"
	"github.com/akiho/torii/internal/relay"
)

const maxRequestBodySize = 20 << 20

// AgentHeader names the explicit agent identifier; absent, the User-Agent
// product token is the fallback signal.
const AgentHeader = "X-Torii-Agent"

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/healthz", g.handleHealth)
	return mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := ulid.Make().String()
	ctx := logger.WithRequestID(r.Context(), requestID)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, toriiErrors.InvalidInput("failed to read request body"))
		return
	}

	body = sanitizeModel(body)

	var wireReq openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &wireReq); err != nil {
		writeError(w, toriiErrors.InvalidInput("malformed request body"))
		return
	}

	req := adapter.FromWireRequest(wireReq)
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, toriiErrors.InvalidInput("model and messages are required"))
		return
	}

	resolved, err := g.agents.Resolve(ctx, r.Header.Get(AgentHeader), r.Header.Get("User-Agent"))
	if err != nil {
		slog.Error("Agent resolution failed", "request_id", requestID, "phase", "resolve", "error", err)
		writeError(w, err)
		return
	}
	ctx = logger.WithAgentID(ctx, resolved.ID)

	// Pre-flight limit check: a block never reaches upstream and never
	// creates an interaction record.
	if err := g.limits.Check(ctx, resolved.ID); err != nil {
		slog.Info("Request blocked by limit", "request_id", requestID, "agent", resolved.ID, "error", err)
		writeError(w, err)
		return
	}

	t := &turn{
		requestID:    requestID,
		agent:        resolved,
		req:          req,
		originalBody: body,
	}

	if req.Stream {
		g.streamTurn(ctx, w, t)
		return
	}
	g.completeTurn(ctx, w, t)
}

func (g *Gateway) completeTurn(ctx context.Context, w http.ResponseWriter, t *turn) {
	wireReq := g.prepare(ctx, t, nil)

	resp, err := g.upstream.Complete(ctx, wireReq)
	if err != nil {
		slog.Error("Upstream call failed", "request_id", t.requestID, "agent", t.agent.ID,
			"model", t.resolvedModel, "phase", "upstream", "error", err)
		writeError(w, err)
		return
	}

	res, err := relay.FromResponse(resp)
	if err != nil {
		slog.Error("Upstream response unusable", "request_id", t.requestID, "model", t.resolvedModel,
			"phase", "assemble", "error", err)
		writeError(w, err)
		return
	}

	final, finish, decision := g.settle(ctx, t, res)

	out := resp
	if !decision.Allowed {
		out.Choices = []openai.ChatCompletionChoice{
			{
				Message:      adapter.ToWireMessage(final),
				FinishReason: openai.FinishReason(finish),
			},
		}
	}

	g.record(ctx, t, res, final, finish, decision)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (g *Gateway) streamTurn(ctx context.Context, w http.ResponseWriter, t *turn) {
	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, toriiErrors.Internal("streaming unsupported"))
		return
	}

	// Trust-evaluation progress streams through the same sink before the
	// primary call begins.
	wireReq := g.prepare(ctx, t, sink)

	stream, err := g.upstream.Stream(ctx, wireReq)
	if err != nil {
		slog.Error("Upstream call failed", "request_id", t.requestID, "agent", t.agent.ID,
			"model", t.resolvedModel, "phase", "upstream", "error", err)
		streamError(w, sink, err)
		return
	}

	finalized := false
	rly := &relay.Relay{
		Sink: sink,
		Finalize: func(res relay.Result) {
			finalized = true
			// the client may already be gone; cleanup still runs
			fctx := context.WithoutCancel(ctx)
			final, finish, decision := g.settle(fctx, t, res)
			g.emitTrailing(sink, t, res, final, finish, decision)
			g.record(fctx, t, res, final, finish, decision)
		},
	}

	if _, err := rly.Stream(ctx, stream); err != nil {
		slog.Warn("Stream ended with error", "request_id", t.requestID, "agent", t.agent.ID,
			"model", t.resolvedModel, "phase", "relay", "error", err)
		if !finalized {
			// upstream failed before any event: no record, plain gateway error
			streamError(w, sink, err)
		}
	}
}

// sanitizeModel strips provider prefixes like "openai/gpt-4o" from the raw
// body before parsing, so routing and pricing see the bare model name.
func sanitizeModel(body []byte) []byte {
	model := gjson.GetBytes(body, "model").String()
	for _, prefix := range []string{"openai/", "anthropic/", "google/", "meta/"} {
		if strings.HasPrefix(model, prefix) {
			if sanitized, err := sjson.SetBytes(body, "model", strings.TrimPrefix(model, prefix)); err == nil {
				return sanitized
			}
			break
		}
	}
	return body
}

// streamError reports a failure on a connection that may already carry SSE
// frames: JSON error before the first frame, an error frame after.
func streamError(w http.ResponseWriter, sink *sseSink, err error) {
	if !sink.started {
		writeError(w, err)
		return
	}

	_, code := toriiErrors.HTTPStatus(err)
	frame, _ := json.Marshal(map[string]interface{}{
		"error": map[string]string{"message": publicMessage(err, code), "type": "gateway_error", "code": code},
	})
	io.WriteString(w, "data: "+string(frame)+"\n\n")
	sink.Done()
}

// writeError sends the sanitized JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status, code := toriiErrors.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": publicMessage(err, code), "type": "gateway_error", "code": code},
	})
}

// publicMessage keeps internal detail out of client-facing errors; limit
// blocks carry their user-facing explanation through.
func publicMessage(err error, code string) string {
	switch code {
	case "token_cost_limit_exceeded":
		return err.Error()
	case "not_found":
		return "unknown agent"
	case "invalid_request":
		return err.Error()
	case "upstream_error":
		return "upstream provider error"
	default:
		return "internal gateway error"
	}
}
