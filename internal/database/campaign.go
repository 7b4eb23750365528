package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// campaignRepo implements CampaignRepository.
type campaignRepo struct {
	db *DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepo{db: db}
}

const campaignColumns = `id, tenant_id, name, status, strategy, max_concurrent,
	 retry_failed, retry_attempts, call_delay_ms, sip_trunk_id, caller_id_number,
	 agent_name, started_at, completed_at, total_calls, successful_calls,
	 failed_calls, created_at, updated_at`

// Create inserts a new campaign.
func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	if c.Strategy == "" {
		c.Strategy = models.StrategyPrimaryFirst
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, tenant_id, name, status, strategy, max_concurrent,
		 retry_failed, retry_attempts, call_delay_ms, sip_trunk_id, caller_id_number,
		 agent_name, total_calls, successful_calls, failed_calls, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		c.ID, c.TenantID, c.Name, c.Status, c.Strategy, c.MaxConcurrent,
		c.RetryFailed, c.RetryAttempts, c.CallDelayMs, c.SIPTrunkID, c.CallerIDNumber,
		c.AgentName, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign scoped to a tenant, or nil if not found.
func (r *campaignRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Campaign, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	))
}

// GetAny returns a campaign without a tenant predicate. Internal use only.
func (r *campaignRepo) GetAny(ctx context.Context, id string) (*models.Campaign, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id,
	))
}

// List returns a tenant's campaigns, newest first.
func (r *campaignRepo) List(ctx context.Context, tenantID string) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE tenant_id = ? ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListByStatus returns campaigns in the given status across all tenants.
// Used by boot recovery.
func (r *campaignRepo) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ? ORDER BY created_at ASC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns by status: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// Update modifies campaign configuration fields. Status and aggregates are
// owned by the runtime and written through the Mark/SetStatus methods.
func (r *campaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, strategy = ?, max_concurrent = ?,
		 retry_failed = ?, retry_attempts = ?, call_delay_ms = ?, sip_trunk_id = ?,
		 caller_id_number = ?, agent_name = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		c.Name, c.Strategy, c.MaxConcurrent,
		c.RetryFailed, c.RetryAttempts, c.CallDelayMs, c.SIPTrunkID,
		c.CallerIDNumber, c.AgentName, c.UpdatedAt,
		c.ID, c.TenantID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}
	return nil
}

// Delete removes a campaign and its dependents.
func (r *campaignRepo) Delete(ctx context.Context, tenantID, id string) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_agents WHERE campaign_id = ?`, id); err != nil {
		return fmt.Errorf("deleting campaign agents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE campaign_id = ? AND tenant_id = ?`, id, tenantID); err != nil {
		return fmt.Errorf("deleting campaign leads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ? AND tenant_id = ?`, id, tenantID); err != nil {
		return fmt.Errorf("deleting campaign: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing campaign delete: %w", err)
	}
	return nil
}

// SetStatus updates only the campaign status.
func (r *campaignRepo) SetStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting campaign status: %w", err)
	}
	return nil
}

// MarkStarted records the transition to active.
func (r *campaignRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
		models.CampaignActive, at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking campaign started: %w", err)
	}
	return nil
}

// MarkFinished records a terminal status with final aggregates.
func (r *campaignRepo) MarkFinished(ctx context.Context, id string, status models.CampaignStatus, at time.Time, total, successful, failed int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, completed_at = ?, total_calls = ?,
		 successful_calls = ?, failed_calls = ?, updated_at = ? WHERE id = ?`,
		status, at.UTC(), total, successful, failed, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking campaign finished: %w", err)
	}
	return nil
}

func (r *campaignRepo) scanRows(rows *sql.Rows) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Status, &c.Strategy,
			&c.MaxConcurrent, &c.RetryFailed, &c.RetryAttempts, &c.CallDelayMs,
			&c.SIPTrunkID, &c.CallerIDNumber, &c.AgentName, &c.StartedAt,
			&c.CompletedAt, &c.TotalCalls, &c.SuccessfulCalls, &c.FailedCalls,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating campaign rows: %w", err)
	}
	return campaigns, nil
}

func (r *campaignRepo) scanOne(row *sql.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Status, &c.Strategy,
		&c.MaxConcurrent, &c.RetryFailed, &c.RetryAttempts, &c.CallDelayMs,
		&c.SIPTrunkID, &c.CallerIDNumber, &c.AgentName, &c.StartedAt,
		&c.CompletedAt, &c.TotalCalls, &c.SuccessfulCalls, &c.FailedCalls,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}
