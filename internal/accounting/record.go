package accounting

import (
	"time"

	"github.com/akiho/torii/internal/toon"
)

// InteractionRecord is the durable audit unit for one client-visible
// request/response cycle. Exactly one is created per cycle and it is never
// mutated afterwards; the accountant is the sole writer.
type InteractionRecord struct {
	ID             string
	AgentID        string
	RequestedModel string
	ResolvedModel  string

	// OriginalRequest is what the client sent; TransmittedRequest is what
	// actually went upstream, after trust sanitization and compression.
	OriginalRequest    string
	TransmittedRequest string
	// Response is what the client actually received, post-policy.
	Response string

	// Token and cost fields stay nil when the stream aborted before a
	// usage-bearing chunk arrived; accounting never blocks on telemetry.
	InputTokens   *int
	OutputTokens  *int
	BaselineCost  *float64
	OptimizedCost *float64

	Compression      toon.Stats
	BlockedToolCalls int
	Aborted          bool
	CreatedAt        time.Time
}
