// Package limits is the pre-flight spend check consulted before any upstream
// call. A block produces a rate-limit refusal without touching the provider
// or creating an interaction record.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/akiho/torii/internal/config"
	toriiErrors "github.com/akiho/torii/internal/errors"
)

// CostReader is the slice of the accounting store the checker needs.
type CostReader interface {
	SumCostSince(ctx context.Context, agentID string, since time.Time) (float64, error)
}

type Checker struct {
	costs  CostReader
	limit  float64
	window time.Duration
}

func NewChecker(costs CostReader, cfg config.LimitsConfig) (*Checker, error) {
	window, err := config.DurationOrDefault(cfg.Window, config.DefaultLimitWindow)
	if err != nil {
		return nil, err
	}
	return &Checker{costs: costs, limit: cfg.DailyCostLimit, window: window}, nil
}

// Check returns ErrLimitExceeded when the agent's rolling spend has reached
// the configured limit. A zero limit disables the check.
func (c *Checker) Check(ctx context.Context, agentID string) error {
	if c.limit <= 0 {
		return nil
	}

	spent, err := c.costs.SumCostSince(ctx, agentID, time.Now().Add(-c.window))
	if err != nil {
		return toriiErrors.Wrap(err, "spend lookup")
	}

	if spent >= c.limit {
		return toriiErrors.LimitExceeded(
			fmt.Sprintf("agent %s spent %.4f of %.4f in the last %s", agentID, spent, c.limit, c.window))
	}
	return nil
}
