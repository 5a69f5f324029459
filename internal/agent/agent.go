// Package agent resolves the calling agent's identity and its gateway
// settings from an explicit identifier or a client-supplied fallback signal.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	toriiErrors "github.com/akiho/torii/internal/errors"
)

// Agent carries the per-agent gateway settings the pipeline consults.
type Agent struct {
	ID   string
	Name string
	// TeamID scopes team optimization rules; empty for unaffiliated agents.
	TeamID string
	// DistrustToolContext routes the agent's requests through the trust
	// evaluator whenever tool results are present.
	DistrustToolContext bool
	// CompressToolPayloads gates TOON compaction of tool results.
	CompressToolPayloads bool
	CreatedAt            time.Time
}

// Store is the persistence the resolver sits on.
type Store interface {
	GetAgent(ctx context.Context, id string) (Agent, bool, error)
	FindAgentByName(ctx context.Context, name string) (Agent, bool, error)
	CreateAgent(ctx context.Context, a Agent) error
}

const cacheSize = 512

// Resolver resolves agents with a read-through cache. Explicit ids must
// exist; fallback signals (user-agent strings) create a default agent on
// first sight.
type Resolver struct {
	store Store
	cache *lru.Cache[string, Agent]
}

func NewResolver(store Store) (*Resolver, error) {
	cache, err := lru.New[string, Agent](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{store: store, cache: cache}, nil
}

// Resolve returns the agent for an explicit id, or falls back to the
// user-agent signal. An unknown explicit id is an error; an unknown fallback
// name creates a default agent.
func (r *Resolver) Resolve(ctx context.Context, explicitID, userAgent string) (Agent, error) {
	if explicitID != "" {
		if a, ok := r.cache.Get("id:" + explicitID); ok {
			return a, nil
		}

		a, found, err := r.store.GetAgent(ctx, explicitID)
		if err != nil {
			return Agent{}, err
		}
		if !found {
			return Agent{}, toriiErrors.NotFound(fmt.Sprintf("agent %s", explicitID))
		}

		r.cache.Add("id:"+explicitID, a)
		return a, nil
	}

	name := nameFromUserAgent(userAgent)
	if a, ok := r.cache.Get("name:" + name); ok {
		return a, nil
	}

	a, found, err := r.store.FindAgentByName(ctx, name)
	if err != nil {
		return Agent{}, err
	}
	if !found {
		a = Agent{
			ID:        ulid.Make().String(),
			Name:      name,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.store.CreateAgent(ctx, a); err != nil {
			return Agent{}, toriiErrors.Wrap(err, "create default agent")
		}
		// re-read: a concurrent request may have won the insert
		if existing, found, err := r.store.FindAgentByName(ctx, name); err == nil && found {
			a = existing
		}
		slog.Info("Default agent created", "name", name, "id", a.ID)
	}

	r.cache.Add("name:"+name, a)
	return a, nil
}

// nameFromUserAgent derives a stable agent name from the product token of a
// user-agent string ("my-app/1.2 (linux)" -> "my-app").
func nameFromUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "default"
	}

	token := ua
	if i := strings.IndexAny(token, " \t"); i >= 0 {
		token = token[:i]
	}
	if i := strings.Index(token, "/"); i >= 0 {
		token = token[:i]
	}
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "default"
	}
	return token
}
