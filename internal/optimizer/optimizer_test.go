package optimizer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiho/torii/internal/contract"
)

type memPriceStore struct {
	prices      map[string]Price
	ensureCalls int
}

func newMemPriceStore() *memPriceStore {
	return &memPriceStore{prices: make(map[string]Price)}
}

func (m *memPriceStore) EnsurePrice(ctx context.Context, p Price) error {
	m.ensureCalls++
	if _, ok := m.prices[p.Model]; !ok {
		m.prices[p.Model] = p
	}
	return nil
}

func (m *memPriceStore) GetPrice(ctx context.Context, model string) (Price, bool, error) {
	p, ok := m.prices[model]
	return p, ok, nil
}

func TestRuleSet_PriorityOrdersMatching(t *testing.T) {
	rules := NewRuleSet([]Rule{
		{ID: "low", Scope: ScopeGlobal, Enabled: true, Priority: 0, Target: "gpt-4o-mini"},
		{ID: "high", Scope: ScopeGlobal, Enabled: true, Priority: 10, Target: "gpt-4.1-nano"},
	})

	rule, ok := rules.Match("agent-1", "", false)
	require.True(t, ok)
	assert.Equal(t, "high", rule.ID)
}

func TestRuleSet_PriorityTieBrokenByNewest(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	rules := NewRuleSet([]Rule{
		{ID: "old", Scope: ScopeGlobal, Enabled: true, Priority: 5, Target: "a", CreatedAt: older},
		{ID: "new", Scope: ScopeGlobal, Enabled: true, Priority: 5, Target: "b", CreatedAt: newer},
	})

	rule, ok := rules.Match("agent-1", "", false)
	require.True(t, ok)
	assert.Equal(t, "new", rule.ID)
}

func TestRuleSet_ToolRequestsSkipToolUnsafeRules(t *testing.T) {
	rules := NewRuleSet([]Rule{
		{ID: "no-tools", Scope: ScopeGlobal, Enabled: true, Priority: 10, Target: "gpt-4o-mini", AllowTools: false},
		{ID: "tools-ok", Scope: ScopeGlobal, Enabled: true, Priority: 0, Target: "gpt-4.1-mini", AllowTools: true},
	})

	rule, ok := rules.Match("agent-1", "", true)
	require.True(t, ok)
	assert.Equal(t, "tools-ok", rule.ID)

	rule, ok = rules.Match("agent-1", "", false)
	require.True(t, ok)
	assert.Equal(t, "no-tools", rule.ID)
}

func TestRuleSet_ScopeFiltering(t *testing.T) {
	rules := NewRuleSet([]Rule{
		{ID: "for-a", Scope: ScopeAgent, AgentID: "agent-a", Enabled: true, Priority: 10, Target: "mini"},
		{ID: "for-team", Scope: ScopeTeam, TeamID: "team-x", Enabled: true, Priority: 5, Target: "nano"},
	})

	_, ok := rules.Match("agent-b", "", false)
	assert.False(t, ok)

	rule, ok := rules.Match("agent-a", "", false)
	require.True(t, ok)
	assert.Equal(t, "for-a", rule.ID)

	rule, ok = rules.Match("agent-b", "team-x", false)
	require.True(t, ok)
	assert.Equal(t, "for-team", rule.ID)
}

func TestRuleSet_DisabledRulesSkipped(t *testing.T) {
	rules := NewRuleSet([]Rule{
		{ID: "off", Scope: ScopeGlobal, Enabled: false, Priority: 10, Target: "mini"},
	})

	_, ok := rules.Match("agent-1", "", false)
	assert.False(t, ok)
}

func TestOptimizer_RouteNoRuleKeepsModel(t *testing.T) {
	opt := New(NewRuleSet(nil), newMemPriceStore(), 2.5, 10)

	model, substituted := opt.Route("agent-1", "", "gpt-4o", false)
	assert.Equal(t, "gpt-4o", model)
	assert.False(t, substituted)
}

func TestOptimizer_RouteTargetEqualsModelIsNoSubstitution(t *testing.T) {
	rules := NewRuleSet([]Rule{
		{ID: "same", Scope: ScopeGlobal, Enabled: true, Target: "gpt-4o"},
	})
	opt := New(rules, newMemPriceStore(), 2.5, 10)

	model, substituted := opt.Route("agent-1", "", "gpt-4o", false)
	assert.Equal(t, "gpt-4o", model)
	assert.False(t, substituted)
}

func TestOptimizer_RouteSubstitutes(t *testing.T) {
	rules := NewRuleSet([]Rule{
		{ID: "cheap", Scope: ScopeGlobal, Enabled: true, Target: "gpt-4o-mini"},
	})
	opt := New(rules, newMemPriceStore(), 2.5, 10)

	model, substituted := opt.Route("agent-1", "", "gpt-4o", false)
	assert.Equal(t, "gpt-4o-mini", model)
	assert.True(t, substituted)
}

func TestOptimizer_QuoteNilUsageHasNilCost(t *testing.T) {
	opt := New(NewRuleSet(nil), newMemPriceStore(), 2.5, 10)

	q, err := opt.Quote(context.Background(), "gpt-4o", nil)
	require.NoError(t, err)
	assert.Nil(t, q.Cost)
	assert.Equal(t, "gpt-4o", q.Model)
}

func TestOptimizer_QuoteComputesCostFromStoredPrice(t *testing.T) {
	store := newMemPriceStore()
	store.prices["gpt-4o"] = Price{Model: "gpt-4o", InputPerMTok: 2.5, OutputPerMTok: 10}
	opt := New(NewRuleSet(nil), store, 99, 99)

	q, err := opt.Quote(context.Background(), "gpt-4o", &contract.Usage{Input: 1_000_000, Output: 500_000})
	require.NoError(t, err)
	require.NotNil(t, q.Cost)
	assert.InDelta(t, 2.5+5.0, *q.Cost, 1e-9)
}

func TestOptimizer_QuoteSeedsDefaultPriceForUnknownModel(t *testing.T) {
	store := newMemPriceStore()
	opt := New(NewRuleSet(nil), store, 2.0, 8.0)

	q, err := opt.Quote(context.Background(), "new-model", &contract.Usage{Input: 2_000_000, Output: 1_000_000})
	require.NoError(t, err)
	require.NotNil(t, q.Cost)
	assert.InDelta(t, 2*2.0+1*8.0, *q.Cost, 1e-9)

	// seeding never overwrites an existing price
	require.NoError(t, opt.EnsurePriced(context.Background(), "new-model"))
	assert.InDelta(t, 2.0, store.prices["new-model"].InputPerMTok, 1e-9)
}

func TestRuleStore_MissingFileIsEmptySet(t *testing.T) {
	store := NewRuleStore(filepath.Join(t.TempDir(), "rules.yaml"))

	set, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestRuleStore_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	store := NewRuleStore(path)

	created := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	err := store.Save([]Rule{
		{ID: "r1", Scope: ScopeGlobal, Enabled: true, AllowTools: true, Priority: 3, Target: "gpt-4o-mini", CreatedAt: created},
	})
	require.NoError(t, err)

	set, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	rule, ok := set.Match("any", "", true)
	require.True(t, ok)
	assert.Equal(t, "r1", rule.ID)
	assert.Equal(t, "gpt-4o-mini", rule.Target)
	assert.True(t, rule.CreatedAt.Equal(created))
}
