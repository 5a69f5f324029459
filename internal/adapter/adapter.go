// Package adapter converts between the canonical contract types and the
// OpenAI-compatible wire shapes. Every transform is a pure function; the
// relay and gateway own all state.
package adapter

import (
	"github.com/sashabaranov/go-openai"

	"github.com/akiho/torii/internal/contract"
)

// ToWireRequest builds the upstream chat-completion request.
func ToWireRequest(req contract.Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    ToWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Tools:       ToWireTools(req.Tools),
	}

	if req.ToolChoice != "" {
		out.ToolChoice = req.ToolChoice
	}

	if req.Stream {
		// Some providers only attach authoritative usage to the final chunk
		// and only when asked for it.
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out
}

// ToWireMessages converts a canonical history to wire messages.
func ToWireMessages(msgs []contract.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToWireMessage(m))
	}
	return out
}

// ToWireMessage converts one canonical message.
func ToWireMessage(m contract.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:       m.Role,
		Content:    m.Content,
		Refusal:    m.Refusal,
		ToolCallID: m.ToolCallID,
	}

	if len(m.Parts) > 0 {
		msg.Content = ""
		msg.MultiContent = toWireParts(m.Parts)
	}

	if len(m.ToolCalls) > 0 {
		msg.ToolCalls = ToWireToolCalls(m.ToolCalls)
	}

	return msg
}

func toWireParts(parts []contract.Part) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case contract.PartImage:
			out = append(out, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.URL},
			})
		case contract.PartFile:
			// The wire part union has no file variant; send the reference as text.
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.URL,
			})
		default:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return out
}

// ToWireToolCalls normalizes both call variants into the function shape the
// wire carries.
func ToWireToolCalls(calls []contract.ToolCall) []openai.ToolCall {
	out := make([]openai.ToolCall, 0, len(calls))
	for _, c := range calls {
		name, arguments := c.Normalize()
		out = append(out, openai.ToolCall{
			ID:   c.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      name,
				Arguments: arguments,
			},
		})
	}
	return out
}

// ToWireTools converts tool definitions; custom-format tools ride the function
// envelope with an empty schema.
func ToWireTools(defs []contract.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}

	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// FromWireMessage converts a wire assistant/tool message back to canonical form.
func FromWireMessage(msg openai.ChatCompletionMessage) contract.Message {
	out := contract.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		Refusal:    msg.Refusal,
		ToolCallID: msg.ToolCallID,
	}

	for _, p := range msg.MultiContent {
		switch p.Type {
		case openai.ChatMessagePartTypeImageURL:
			part := contract.Part{Type: contract.PartImage}
			if p.ImageURL != nil {
				part.URL = p.ImageURL.URL
			}
			out.Parts = append(out.Parts, part)
		default:
			out.Parts = append(out.Parts, contract.Part{Type: contract.PartText, Text: p.Text})
		}
	}

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = FromWireToolCalls(msg.ToolCalls)
	}

	return out
}

// FromWireToolCalls converts wire tool calls to the tagged union. Providers
// that emit the custom variant mark it in the type field.
func FromWireToolCalls(calls []openai.ToolCall) []contract.ToolCall {
	out := make([]contract.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if string(tc.Type) == contract.ToolCallCustom {
			out = append(out, contract.NewCustomCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
			continue
		}
		out = append(out, contract.NewFunctionCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out
}

// FromWireRequest converts an inbound client request to canonical form.
func FromWireRequest(req openai.ChatCompletionRequest) contract.Request {
	out := contract.Request{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, FromWireMessage(m))
	}

	for _, t := range req.Tools {
		def := contract.ToolDefinition{Kind: contract.ToolCallFunction}
		if t.Function != nil {
			def.Name = t.Function.Name
			def.Description = t.Function.Description
			if params, ok := t.Function.Parameters.(map[string]interface{}); ok {
				def.Parameters = params
			}
		}
		if string(t.Type) == contract.ToolCallCustom {
			def.Kind = contract.ToolCallCustom
		}
		out.Tools = append(out.Tools, def)
	}

	if choice, ok := req.ToolChoice.(string); ok {
		out.ToolChoice = choice
	}

	return out
}

// FromWireUsage lifts provider usage into the uniform shape, nil when the
// provider reported nothing.
func FromWireUsage(u *openai.Usage) *contract.Usage {
	if u == nil {
		return nil
	}
	return &contract.Usage{Input: u.PromptTokens, Output: u.CompletionTokens}
}
