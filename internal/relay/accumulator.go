package relay

import (
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/akiho/torii/internal/adapter"
	"github.com/akiho/torii/internal/contract"
)

// accumulator reassembles one logical assistant turn from stream deltas.
// Tool-call argument payloads may be split across chunks at arbitrary byte
// boundaries; fragments sharing an index are concatenated in receipt order.
type accumulator struct {
	id      string
	created int64
	model   string
	role    string
	content strings.Builder
	refusal strings.Builder
	finish  string
	calls   []*callSlot
	usage   *contract.Usage
	ttf     time.Duration
}

type callSlot struct {
	id   string
	kind string
	name string
	args strings.Builder
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

// apply folds one chunk into the buffer and reports whether the chunk should
// be forwarded to the client as-is. Chunks carrying tool-call deltas are never
// forwarded, and once any tool call has been seen the trailing finish/usage
// chunks are withheld too: the turn's disposition is only known after policy
// review.
func (a *accumulator) apply(chunk openai.ChatCompletionStreamResponse) bool {
	if a.id == "" {
		a.id = chunk.ID
		a.created = chunk.Created
	}
	if chunk.Model != "" {
		a.model = chunk.Model
	}
	if chunk.Usage != nil {
		// later occurrences overwrite: some providers attach authoritative
		// usage only to the final chunk
		a.usage = adapter.FromWireUsage(chunk.Usage)
	}

	hasToolDelta := false
	for i := range chunk.Choices {
		choice := chunk.Choices[i]
		if choice.Index != 0 {
			continue
		}

		delta := choice.Delta
		if len(delta.ToolCalls) > 0 {
			hasToolDelta = true
			for _, tc := range delta.ToolCalls {
				a.applyToolDelta(tc)
			}
		}
		if delta.Role != "" {
			a.role = delta.Role
		}
		a.content.WriteString(delta.Content)
		a.refusal.WriteString(delta.Refusal)
		if choice.FinishReason != "" {
			a.finish = string(choice.FinishReason)
		}
	}

	return !hasToolDelta && len(a.calls) == 0
}

func (a *accumulator) applyToolDelta(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	if idx < 0 {
		return
	}

	for len(a.calls) <= idx {
		a.calls = append(a.calls, &callSlot{kind: contract.ToolCallFunction})
	}

	slot := a.calls[idx]
	if tc.ID != "" {
		slot.id = tc.ID
	}
	if string(tc.Type) != "" {
		slot.kind = string(tc.Type)
	}
	if tc.Function.Name != "" {
		slot.name = tc.Function.Name
	}
	slot.args.WriteString(tc.Function.Arguments)
}

func (a *accumulator) result() Result {
	role := a.role
	if role == "" {
		role = contract.RoleAssistant
	}

	msg := contract.Message{
		Role:    role,
		Content: a.content.String(),
		Refusal: a.refusal.String(),
	}

	for _, slot := range a.calls {
		// arguments are kept verbatim even when the stream aborted mid-payload
		// and the JSON is incomplete
		if slot.kind == contract.ToolCallCustom {
			msg.ToolCalls = append(msg.ToolCalls, contract.NewCustomCall(slot.id, slot.name, slot.args.String()))
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, contract.NewFunctionCall(slot.id, slot.name, slot.args.String()))
	}

	return Result{
		ID:           a.id,
		Created:      a.created,
		Model:        a.model,
		Message:      msg,
		FinishReason: a.finish,
		Usage:        a.usage,
		TimeToFirst:  a.ttf,
	}
}
