package optimizer

import (
	"context"
	"log/slog"

	"github.com/akiho/torii/internal/contract"
)

// Price is the per-million-token rate for one model.
type Price struct {
	Model         string
	InputPerMTok  float64
	OutputPerMTok float64
}

// PriceStore persists model prices. EnsurePrice must be idempotent: it seeds a
// record for a newly seen model and never overwrites an operator-set price,
// even under concurrent requests.
type PriceStore interface {
	EnsurePrice(ctx context.Context, p Price) error
	GetPrice(ctx context.Context, model string) (Price, bool, error)
}

// Quote prices one model's share of a request. Cost stays nil until usage is
// known.
type Quote struct {
	Model  string
	Input  int
	Output int
	Cost   *float64
}

type Optimizer struct {
	rules    RuleSet
	prices   PriceStore
	defaults Price
}

func New(rules RuleSet, prices PriceStore, defaultInputPerMTok, defaultOutputPerMTok float64) *Optimizer {
	return &Optimizer{
		rules:  rules,
		prices: prices,
		defaults: Price{
			InputPerMTok:  defaultInputPerMTok,
			OutputPerMTok: defaultOutputPerMTok,
		},
	}
}

// Route returns the substitute target model for the request, or the original
// model when no rule applies.
func (o *Optimizer) Route(agentID, teamID, model string, hasTools bool) (string, bool) {
	rule, ok := o.rules.Match(agentID, teamID, hasTools)
	if !ok || rule.Target == model {
		return model, false
	}

	slog.Info("Model substitution selected", "rule", rule.ID, "from", model, "to", rule.Target, "agent", agentID)
	return rule.Target, true
}

// EnsurePriced seeds price records for each model that has none yet.
func (o *Optimizer) EnsurePriced(ctx context.Context, models ...string) error {
	for _, model := range models {
		if model == "" {
			continue
		}
		seed := o.defaults
		seed.Model = model
		if err := o.prices.EnsurePrice(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

// Quote computes the cost of usage at the given model's price. Baseline quotes
// use the originally requested model; optimized quotes use the model that
// actually produced the response.
func (o *Optimizer) Quote(ctx context.Context, model string, usage *contract.Usage) (Quote, error) {
	q := Quote{Model: model}
	if usage == nil {
		return q, nil
	}

	q.Input = usage.Input
	q.Output = usage.Output

	if err := o.EnsurePriced(ctx, model); err != nil {
		return q, err
	}

	price, ok, err := o.prices.GetPrice(ctx, model)
	if err != nil {
		return q, err
	}
	if !ok {
		return q, nil
	}

	cost := (float64(usage.Input)*price.InputPerMTok + float64(usage.Output)*price.OutputPerMTok) / 1e6
	q.Cost = &cost
	return q, nil
}
