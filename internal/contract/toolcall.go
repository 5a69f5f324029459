package contract

const (
	ToolCallFunction = "function"
	ToolCallCustom   = "custom"
)

// ToolCall is a tagged union over the two call variants the wire knows.
// Exactly one of Function or Custom is set, selected by Kind.
type ToolCall struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Function *FunctionCall `json:"function,omitempty"`
	Custom   *CustomCall   `json:"custom,omitempty"`
}

// FunctionCall carries a JSON-encoded argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CustomCall carries a free-form input payload.
type CustomCall struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// NewFunctionCall builds a function-variant call.
func NewFunctionCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:       id,
		Kind:     ToolCallFunction,
		Function: &FunctionCall{Name: name, Arguments: arguments},
	}
}

// NewCustomCall builds a custom-variant call.
func NewCustomCall(id, name, input string) ToolCall {
	return ToolCall{
		ID:     id,
		Kind:   ToolCallCustom,
		Custom: &CustomCall{Name: name, Input: input},
	}
}

// Normalize flattens either variant to the name/arguments pair policy and
// adapters work with.
func (c ToolCall) Normalize() (name string, arguments string) {
	switch c.Kind {
	case ToolCallCustom:
		if c.Custom != nil {
			return c.Custom.Name, c.Custom.Input
		}
	default:
		if c.Function != nil {
			return c.Function.Name, c.Function.Arguments
		}
	}
	return "", ""
}
