package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/akiho/torii/internal/agent"
	toriiErrors "github.com/akiho/torii/internal/errors"
	"github.com/akiho/torii/internal/optimizer"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	requested_model TEXT NOT NULL,
	resolved_model TEXT NOT NULL,
	original_request TEXT NOT NULL,
	transmitted_request TEXT NOT NULL,
	response TEXT NOT NULL,
	input_tokens INTEGER,
	output_tokens INTEGER,
	baseline_cost REAL,
	optimized_cost REAL,
	compression_pre_tokens INTEGER NOT NULL DEFAULT 0,
	compression_post_tokens INTEGER NOT NULL DEFAULT 0,
	compression_rewritten INTEGER NOT NULL DEFAULT 0,
	blocked_tool_calls INTEGER NOT NULL DEFAULT 0,
	aborted INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_agent_created ON interactions(agent_id, created_at);

CREATE TABLE IF NOT EXISTS model_prices (
	model TEXT PRIMARY KEY,
	input_per_mtok REAL NOT NULL,
	output_per_mtok REAL NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	team_id TEXT NOT NULL DEFAULT '',
	distrust_tool_context INTEGER NOT NULL DEFAULT 0,
	compress_tool_payloads INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

// Store owns the gateway's durable state: interaction records, model prices,
// and agents. Schema is applied on open; the file is created if missing.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: serializes writers and keeps :memory: databases from
	// splitting across pool connections
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, toriiErrors.Wrap(err, "apply schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertInteraction persists one record; records are never updated afterwards.
func (s *Store) InsertInteraction(ctx context.Context, rec InteractionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, agent_id, requested_model, resolved_model,
			original_request, transmitted_request, response,
			input_tokens, output_tokens, baseline_cost, optimized_cost,
			compression_pre_tokens, compression_post_tokens, compression_rewritten,
			blocked_tool_calls, aborted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentID, rec.RequestedModel, rec.ResolvedModel,
		rec.OriginalRequest, rec.TransmittedRequest, rec.Response,
		rec.InputTokens, rec.OutputTokens, rec.BaselineCost, rec.OptimizedCost,
		rec.Compression.PreTokens, rec.Compression.PostTokens, rec.Compression.Rewritten,
		rec.BlockedToolCalls, rec.Aborted, rec.CreatedAt,
	)
	return err
}

// GetInteraction reads one record back, mainly for the audit surface.
func (s *Store) GetInteraction(ctx context.Context, id string) (InteractionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, requested_model, resolved_model,
			original_request, transmitted_request, response,
			input_tokens, output_tokens, baseline_cost, optimized_cost,
			compression_pre_tokens, compression_post_tokens, compression_rewritten,
			blocked_tool_calls, aborted, created_at
		FROM interactions WHERE id = ?`, id)

	var rec InteractionRecord
	err := row.Scan(
		&rec.ID, &rec.AgentID, &rec.RequestedModel, &rec.ResolvedModel,
		&rec.OriginalRequest, &rec.TransmittedRequest, &rec.Response,
		&rec.InputTokens, &rec.OutputTokens, &rec.BaselineCost, &rec.OptimizedCost,
		&rec.Compression.PreTokens, &rec.Compression.PostTokens, &rec.Compression.Rewritten,
		&rec.BlockedToolCalls, &rec.Aborted, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return InteractionRecord{}, false, nil
	}
	if err != nil {
		return InteractionRecord{}, false, err
	}
	return rec, true, nil
}

// LatestInteraction returns an agent's most recent record.
func (s *Store) LatestInteraction(ctx context.Context, agentID string) (InteractionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, requested_model, resolved_model,
			original_request, transmitted_request, response,
			input_tokens, output_tokens, baseline_cost, optimized_cost,
			compression_pre_tokens, compression_post_tokens, compression_rewritten,
			blocked_tool_calls, aborted, created_at
		FROM interactions WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, agentID)

	var rec InteractionRecord
	err := row.Scan(
		&rec.ID, &rec.AgentID, &rec.RequestedModel, &rec.ResolvedModel,
		&rec.OriginalRequest, &rec.TransmittedRequest, &rec.Response,
		&rec.InputTokens, &rec.OutputTokens, &rec.BaselineCost, &rec.OptimizedCost,
		&rec.Compression.PreTokens, &rec.Compression.PostTokens, &rec.Compression.Rewritten,
		&rec.BlockedToolCalls, &rec.Aborted, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return InteractionRecord{}, toriiErrors.NotFound(fmt.Sprintf("interactions for agent %s", agentID))
	}
	if err != nil {
		return InteractionRecord{}, err
	}
	return rec, nil
}

// CountInteractions reports how many records an agent has accrued since a time.
func (s *Store) CountInteractions(ctx context.Context, agentID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE agent_id = ? AND created_at >= ?`,
		agentID, since).Scan(&n)
	return n, err
}

// SumCostSince totals optimized cost for an agent inside the window; records
// without a cost (aborted before usage) count as zero.
func (s *Store) SumCostSince(ctx context.Context, agentID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(COALESCE(optimized_cost, 0)), 0)
		 FROM interactions WHERE agent_id = ? AND created_at >= ?`,
		agentID, since).Scan(&total)
	return total, err
}

// EnsurePrice seeds a price record for a newly seen model. The uniqueness
// constraint makes the insert a no-op when a record already exists, so
// concurrent requests never double-insert and an operator-customized price is
// never overwritten.
func (s *Store) EnsurePrice(ctx context.Context, p optimizer.Price) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_prices (model, input_per_mtok, output_per_mtok, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model) DO NOTHING`,
		p.Model, p.InputPerMTok, p.OutputPerMTok, time.Now().UTC(),
	)
	return err
}

// SetPrice is the operator override; unlike EnsurePrice it always wins.
func (s *Store) SetPrice(ctx context.Context, p optimizer.Price) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_prices (model, input_per_mtok, output_per_mtok, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model) DO UPDATE SET
			input_per_mtok = excluded.input_per_mtok,
			output_per_mtok = excluded.output_per_mtok`,
		p.Model, p.InputPerMTok, p.OutputPerMTok, time.Now().UTC(),
	)
	return err
}

func (s *Store) GetPrice(ctx context.Context, model string) (optimizer.Price, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT model, input_per_mtok, output_per_mtok FROM model_prices WHERE model = ?`, model)

	var p optimizer.Price
	err := row.Scan(&p.Model, &p.InputPerMTok, &p.OutputPerMTok)
	if err == sql.ErrNoRows {
		return optimizer.Price{}, false, nil
	}
	if err != nil {
		return optimizer.Price{}, false, err
	}
	return p, true, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (agent.Agent, bool, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, name, team_id, distrust_tool_context, compress_tool_payloads, created_at
		FROM agents WHERE id = ?`, id))
}

func (s *Store) FindAgentByName(ctx context.Context, name string) (agent.Agent, bool, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, name, team_id, distrust_tool_context, compress_tool_payloads, created_at
		FROM agents WHERE name = ?`, name))
}

// CreateAgent inserts the agent unless its name is already taken; the existing
// row wins so concurrent default-agent creation converges on one identity.
func (s *Store) CreateAgent(ctx context.Context, a agent.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, team_id, distrust_tool_context, compress_tool_payloads, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		a.ID, a.Name, a.TeamID, a.DistrustToolContext, a.CompressToolPayloads, a.CreatedAt,
	)
	return err
}

func (s *Store) scanAgent(row *sql.Row) (agent.Agent, bool, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.Name, &a.TeamID, &a.DistrustToolContext, &a.CompressToolPayloads, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return agent.Agent{}, false, nil
	}
	if err != nil {
		return agent.Agent{}, false, err
	}
	return a, true, nil
}
