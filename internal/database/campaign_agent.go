package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// campaignAgentRepo implements CampaignAgentRepository.
type campaignAgentRepo struct {
	db *DB
}

// NewCampaignAgentRepository creates a new CampaignAgentRepository.
func NewCampaignAgentRepository(db *DB) CampaignAgentRepository {
	return &campaignAgentRepo{db: db}
}

// Assign links an agent to a campaign. Duplicate assignments surface as a
// unique violation the caller maps to a conflict.
func (r *campaignAgentRepo) Assign(ctx context.Context, ca *models.CampaignAgent) error {
	ca.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO campaign_agents (campaign_id, agent_id, is_primary, created_at)
		 VALUES (?, ?, ?, ?)`,
		ca.CampaignID, ca.AgentID, ca.IsPrimary, ca.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign agent: %w", err)
	}
	return nil
}

// Unassign removes an agent from a campaign.
func (r *campaignAgentRepo) Unassign(ctx context.Context, campaignID, agentID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM campaign_agents WHERE campaign_id = ? AND agent_id = ?`,
		campaignID, agentID,
	)
	if err != nil {
		return fmt.Errorf("deleting campaign agent: %w", err)
	}
	return nil
}

// ListAssignments returns active agents assigned to the campaign in selection
// order: primary first, then by assignment age.
func (r *campaignAgentRepo) ListAssignments(ctx context.Context, campaignID string) ([]models.AgentAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.name, a.is_active, a.max_concurrent_calls,
		 a.livekit_agent_name, a.created_at, a.updated_at,
		 ca.is_primary, ca.created_at
		 FROM campaign_agents ca
		 JOIN agents a ON a.id = ca.agent_id
		 WHERE ca.campaign_id = ? AND a.is_active = ?
		 ORDER BY ca.is_primary DESC, ca.created_at ASC`,
		campaignID, true,
	)
	if err != nil {
		return nil, fmt.Errorf("listing campaign assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.AgentAssignment
	for rows.Next() {
		var asg models.AgentAssignment
		if err := rows.Scan(&asg.Agent.ID, &asg.Agent.Name, &asg.Agent.IsActive,
			&asg.Agent.MaxConcurrentCalls, &asg.Agent.LiveKitAgentName,
			&asg.Agent.CreatedAt, &asg.Agent.UpdatedAt,
			&asg.IsPrimary, &asg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment row: %w", err)
		}
		assignments = append(assignments, asg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignment rows: %w", err)
	}
	return assignments, nil
}
