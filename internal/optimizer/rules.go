// Package optimizer substitutes cheaper equivalent models when an operator
// rule says the swap is safe, and prices both sides of the substitution.
package optimizer

import (
	"sort"
	"time"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeAgent  Scope = "agent"
	ScopeTeam   Scope = "team"
)

// Rule maps a condition to a target model. Rules are externally owned and
// treated as a read-only snapshot per request.
type Rule struct {
	ID      string `yaml:"id"`
	Scope   Scope  `yaml:"scope"`
	AgentID string `yaml:"agent_id,omitempty"`
	TeamID  string `yaml:"team_id,omitempty"`
	Enabled bool   `yaml:"enabled"`
	// AllowTools false restricts the rule to tool-free requests; substitute
	// models are not assumed to match the original's tool-calling quality.
	AllowTools bool      `yaml:"allow_tools"`
	Priority   int       `yaml:"priority"`
	Target     string    `yaml:"target"`
	CreatedAt  time.Time `yaml:"created_at"`
}

type RuleSet struct {
	rules []Rule
}

// NewRuleSet orders rules for matching: priority descending, ties broken by
// most recently created.
func NewRuleSet(rules []Rule) RuleSet {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})
	return RuleSet{rules: ordered}
}

// Match returns the highest-priority applicable rule, if any.
func (s RuleSet) Match(agentID, teamID string, hasTools bool) (Rule, bool) {
	for _, r := range s.rules {
		if !r.Enabled || r.Target == "" {
			continue
		}
		if hasTools && !r.AllowTools {
			continue
		}

		switch r.Scope {
		case ScopeGlobal:
		case ScopeAgent:
			if r.AgentID != agentID {
				continue
			}
		case ScopeTeam:
			if teamID == "" || r.TeamID != teamID {
				continue
			}
		default:
			continue
		}

		return r, true
	}
	return Rule{}, false
}

func (s RuleSet) Len() int {
	return len(s.rules)
}
