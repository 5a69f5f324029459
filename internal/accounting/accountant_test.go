package accounting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiho/torii/internal/contract"
	"github.com/akiho/torii/internal/optimizer"
)

func newTestAccountant(t *testing.T) (*Accountant, *Store) {
	t.Helper()
	store := openTestStore(t)
	opt := optimizer.New(optimizer.NewRuleSet(nil), store, 2.0, 8.0)
	return NewAccountant(store, opt), store
}

func TestAccountant_EqualCostsWithoutSubstitution(t *testing.T) {
	acct, store := newTestAccountant(t)
	ctx := context.Background()

	rec := acct.Finalize(ctx, FinalizeInput{
		RequestID:          "req-1",
		AgentID:            "agent-1",
		RequestedModel:     "gpt-4o",
		ResolvedModel:      "gpt-4o",
		OriginalRequest:    "{}",
		TransmittedRequest: "{}",
		Response:           "{}",
		Usage:              &contract.Usage{Input: 1_000_000, Output: 1_000_000},
	})

	require.NotNil(t, rec.BaselineCost)
	require.NotNil(t, rec.OptimizedCost)
	assert.Equal(t, *rec.BaselineCost, *rec.OptimizedCost)
	assert.InDelta(t, 2.0+8.0, *rec.BaselineCost, 1e-9)

	got, ok, err := store.GetInteraction(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, *rec.OptimizedCost, *got.OptimizedCost, 1e-9)
}

func TestAccountant_SubstitutionPricesEachModelSeparately(t *testing.T) {
	acct, store := newTestAccountant(t)
	ctx := context.Background()

	require.NoError(t, store.SetPrice(ctx, optimizer.Price{Model: "gpt-4o", InputPerMTok: 2.5, OutputPerMTok: 10}))
	require.NoError(t, store.SetPrice(ctx, optimizer.Price{Model: "gpt-4o-mini", InputPerMTok: 0.15, OutputPerMTok: 0.6}))

	rec := acct.Finalize(ctx, FinalizeInput{
		RequestID:          "req-2",
		AgentID:            "agent-1",
		RequestedModel:     "gpt-4o",
		ResolvedModel:      "gpt-4o-mini",
		OriginalRequest:    "{}",
		TransmittedRequest: "{}",
		Response:           "{}",
		Usage:              &contract.Usage{Input: 1_000_000, Output: 1_000_000},
	})

	require.NotNil(t, rec.BaselineCost)
	require.NotNil(t, rec.OptimizedCost)
	assert.InDelta(t, 12.5, *rec.BaselineCost, 1e-9)
	assert.InDelta(t, 0.75, *rec.OptimizedCost, 1e-9)
	assert.Less(t, *rec.OptimizedCost, *rec.BaselineCost)
}

func TestAccountant_NilUsageLeavesCostsNil(t *testing.T) {
	acct, store := newTestAccountant(t)
	ctx := context.Background()

	rec := acct.Finalize(ctx, FinalizeInput{
		RequestID:          "req-3",
		AgentID:            "agent-1",
		RequestedModel:     "gpt-4o",
		ResolvedModel:      "gpt-4o",
		OriginalRequest:    "{}",
		TransmittedRequest: "{}",
		Response:           "{}",
		Aborted:            true,
	})

	assert.Nil(t, rec.InputTokens)
	assert.Nil(t, rec.OutputTokens)
	assert.Nil(t, rec.BaselineCost)
	assert.Nil(t, rec.OptimizedCost)
	assert.True(t, rec.Aborted)

	got, ok, err := store.GetInteraction(ctx, "req-3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Aborted)
	assert.Nil(t, got.OptimizedCost)
}

func TestAccountant_WritesDespiteCancelledContext(t *testing.T) {
	acct, store := newTestAccountant(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acct.Finalize(ctx, FinalizeInput{
		RequestID:          "req-4",
		AgentID:            "agent-1",
		RequestedModel:     "gpt-4o",
		ResolvedModel:      "gpt-4o",
		OriginalRequest:    "{}",
		TransmittedRequest: "{}",
		Response:           "{}",
		Usage:              &contract.Usage{Input: 10, Output: 10},
	})

	_, ok, err := store.GetInteraction(context.Background(), "req-4")
	require.NoError(t, err)
	assert.True(t, ok)
}
