package policy

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultEvaluator is the built-in rule set: calls must be on the request's
// allowlist, untrusted context may not trigger tools, and url-bearing
// arguments must point at an allowed domain when a domain list is configured.
type DefaultEvaluator struct {
	BlockUntrusted bool
	AllowedDomains []string
}

func (d *DefaultEvaluator) Allow(ctx context.Context, call Call) (bool, string, error) {
	if !call.Enabled {
		return false, "tool_not_enabled", nil
	}

	if d.BlockUntrusted && !call.ContextTrusted {
		return false, "untrusted_context", nil
	}

	if host, ok := extractHost(call.Arguments); ok && len(d.AllowedDomains) > 0 {
		if !containsDomain(d.AllowedDomains, host) {
			return false, "domain_not_allowed", nil
		}
	}

	return true, "", nil
}

func extractHost(arguments string) (string, bool) {
	raw := gjson.Get(arguments, "url").String()
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}

	host := strings.TrimSpace(strings.ToLower(parsed.Hostname()))
	if host == "" {
		return "", false
	}
	return host, true
}

func containsDomain(domains []string, host string) bool {
	for _, domain := range domains {
		if strings.EqualFold(strings.TrimSpace(domain), host) {
			return true
		}
	}
	return false
}
