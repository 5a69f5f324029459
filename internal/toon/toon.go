// Package toon rewrites JSON tool-result payloads into a token-oriented
// compact encoding before transmission. Arrays of uniform flat objects, the
// dominant shape of search and listing tool output, collapse into one header
// row plus one line per element. Anything else passes through untouched.
package toon

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/akiho/torii/internal/contract"
)

// Stats reports the compaction outcome for one request, recorded by the
// accountant whether or not compaction changed model behavior.
type Stats struct {
	PreTokens  int `json:"pre_tokens"`
	PostTokens int `json:"post_tokens"`
	Rewritten  int `json:"rewritten"`
}

// CompressMessages returns a new message list with compressible tool results
// rewritten. Originals are never mutated.
func CompressMessages(msgs []contract.Message) ([]contract.Message, Stats) {
	var stats Stats
	out := make([]contract.Message, len(msgs))
	copy(out, msgs)

	for i, m := range out {
		if m.Role != contract.RoleTool || m.Content == "" {
			continue
		}

		stats.PreTokens += estimateTokens(m.Content)

		encoded, ok := Encode(m.Content)
		if !ok || len(encoded) >= len(m.Content) {
			stats.PostTokens += estimateTokens(m.Content)
			continue
		}

		rewritten := m
		rewritten.Content = encoded
		out[i] = rewritten
		stats.Rewritten++
		stats.PostTokens += estimateTokens(encoded)
	}

	return out, stats
}

// Encode compacts a JSON array of uniform flat objects into header+rows form:
//
//	[3]{id,name}:
//	1,alice
//	2,bob
//	3,carol
//
// Returns ok=false when the payload is not JSON or not uniform enough.
func Encode(payload string) (string, bool) {
	parsed := gjson.Parse(strings.TrimSpace(payload))
	if !parsed.IsArray() {
		return "", false
	}

	rows := parsed.Array()
	if len(rows) < 2 {
		return "", false
	}

	var keys []string
	for i, row := range rows {
		if !row.IsObject() {
			return "", false
		}

		var rowKeys []string
		flat := true
		row.ForEach(func(k, v gjson.Result) bool {
			if v.IsObject() || v.IsArray() {
				flat = false
				return false
			}
			rowKeys = append(rowKeys, k.String())
			return true
		})
		if !flat {
			return "", false
		}

		if i == 0 {
			keys = rowKeys
			continue
		}
		if !sameKeys(keys, rowKeys) {
			return "", false
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d]{%s}:\n", len(rows), strings.Join(keys, ","))
	for _, row := range rows {
		cells := make([]string, 0, len(keys))
		for _, k := range keys {
			cells = append(cells, cell(row.Get(k)))
		}
		sb.WriteString(strings.Join(cells, ","))
		sb.WriteByte('\n')
	}

	return strings.TrimSuffix(sb.String(), "\n"), true
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		s := v.String()
		if strings.ContainsAny(s, ",\n\"") {
			return fmt.Sprintf("%q", s)
		}
		return s
	default:
		return v.Raw
	}
}

// estimateTokens uses the usual ~4 chars/token heuristic; the provider's own
// counts replace these once usage arrives.
func estimateTokens(s string) int {
	return len(s) / 4
}
