package config

const (
	DefaultServerPort            = 8750
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "30s"
	DefaultServerWriteTimeout    = "0s" // streaming responses manage their own lifetime
	DefaultServerIdleTimeout     = "120s"
	DefaultServerShutdownTimeout = "15s"

	DefaultUpstreamName    = "openai"
	DefaultUpstreamBaseURL = "https://api.openai.com/v1"

	DefaultCheckerModel = "gpt-4o-mini"

	// Seed prices in USD per million tokens, used only when no operator
	// price record exists for a model.
	DefaultInputPricePerMTok  = 2.50
	DefaultOutputPricePerMTok = 10.00

	DefaultDailyCostLimit = 0.0
	DefaultLimitWindow    = "24h"
)
