package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// agentRepo implements AgentRepository.
type agentRepo struct {
	db *DB
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *DB) AgentRepository {
	return &agentRepo{db: db}
}

const agentColumns = "id, name, is_active, max_concurrent_calls, livekit_agent_name, created_at, updated_at"

// Create inserts a new agent.
func (r *agentRepo) Create(ctx context.Context, agent *models.Agent) error {
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.MaxConcurrentCalls < 1 {
		agent.MaxConcurrentCalls = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, is_active, max_concurrent_calls,
		 livekit_agent_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.IsActive, agent.MaxConcurrentCalls,
		agent.LiveKitAgentName, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetByID returns an agent by id, or nil if not found.
func (r *agentRepo) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id,
	))
}

// List returns all agents ordered by creation time.
func (r *agentRepo) List(ctx context.Context) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// Update modifies an existing agent.
func (r *agentRepo) Update(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, is_active = ?, max_concurrent_calls = ?,
		 livekit_agent_name = ?, updated_at = ? WHERE id = ?`,
		agent.Name, agent.IsActive, agent.MaxConcurrentCalls,
		agent.LiveKitAgentName, agent.UpdatedAt, agent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return nil
}

// Delete removes an agent and its campaign assignments.
func (r *agentRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_agents WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("deleting agent assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing agent delete: %w", err)
	}
	return nil
}

// OldestActive returns the earliest-created active agent, or nil if none.
// This is the system-wide selection fallback.
func (r *agentRepo) OldestActive(ctx context.Context) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE is_active = ?
		 ORDER BY created_at ASC LIMIT 1`, true,
	))
}

// OldestActiveForTenantCampaigns returns the earliest-created active agent
// assigned to any of the tenant's campaigns, or nil if none. Used by the
// inbound router when a number maps to a tenant but not to a campaign.
func (r *agentRepo) OldestActiveForTenantCampaigns(ctx context.Context, tenantID string) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT a.id, a.name, a.is_active, a.max_concurrent_calls,
		 a.livekit_agent_name, a.created_at, a.updated_at
		 FROM agents a
		 JOIN campaign_agents ca ON ca.agent_id = a.id
		 JOIN campaigns c ON c.id = ca.campaign_id
		 WHERE c.tenant_id = ? AND a.is_active = ?
		 ORDER BY a.created_at ASC LIMIT 1`,
		tenantID, true,
	))
}

func (r *agentRepo) scanRows(rows *sql.Rows) ([]models.Agent, error) {
	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.IsActive, &a.MaxConcurrentCalls,
			&a.LiveKitAgentName, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

func (r *agentRepo) scanOne(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Name, &a.IsActive, &a.MaxConcurrentCalls,
		&a.LiveKitAgentName, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return &a, nil
}
