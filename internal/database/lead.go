package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/database/models"
)

// leadRepo implements LeadRepository.
type leadRepo struct {
	db *DB
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(db *DB) LeadRepository {
	return &leadRepo{db: db}
}

const leadColumns = `id, tenant_id, campaign_id, phone_number, name, priority,
	 status, attempts, metadata, last_call_at, created_at, updated_at`

// BulkCreate inserts leads one by one inside a transaction, skipping rows that
// collide on (tenant, campaign, phone). Returns the number actually created.
func (r *leadRepo) BulkCreate(ctx context.Context, leads []*models.Lead) (int, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	created := 0
	for _, lead := range leads {
		if lead.ID == "" {
			lead.ID = uuid.NewString()
		}
		if lead.Status == "" {
			lead.Status = models.LeadPending
		}
		lead.CreatedAt = now
		lead.UpdatedAt = now

		// Duplicate (campaign, phone) rows are skipped silently; the caller
		// reports the created count.
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM leads WHERE tenant_id = ? AND campaign_id = ? AND phone_number = ?`,
			lead.TenantID, lead.CampaignID, lead.PhoneNumber,
		).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("checking lead uniqueness: %w", err)
		}
		if exists > 0 {
			continue
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO leads (id, tenant_id, campaign_id, phone_number, name,
			 priority, status, attempts, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lead.ID, lead.TenantID, lead.CampaignID, lead.PhoneNumber, lead.Name,
			lead.Priority, lead.Status, lead.Attempts, lead.Metadata,
			lead.CreatedAt, lead.UpdatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting lead: %w", err)
		}
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing lead bulk insert: %w", err)
	}
	return created, nil
}

// GetByID returns a lead scoped to a tenant, or nil if not found.
func (r *leadRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Lead, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	))
}

// ListByCampaign returns a page of leads plus the total count.
func (r *leadRepo) ListByCampaign(ctx context.Context, tenantID, campaignID string, filter LeadListFilter) ([]models.Lead, int, error) {
	where := "tenant_id = ? AND campaign_id = ?"
	args := []any{tenantID, campaignID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting leads: %w", err)
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + where +
		` ORDER BY priority ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing leads: %w", err)
	}
	defer rows.Close()

	leads, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

// ListPending returns pending leads in dial order for seeding a runtime queue.
func (r *leadRepo) ListPending(ctx context.Context, campaignID string) ([]models.Lead, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE campaign_id = ? AND status = ?
		 ORDER BY priority ASC, created_at ASC, id ASC`,
		campaignID, models.LeadPending,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending leads: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// Delete removes a lead. Callers must reject deletion while the lead is
// calling; the predicate here enforces it as a backstop.
func (r *leadRepo) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM leads WHERE id = ? AND tenant_id = ? AND status != ?`,
		id, tenantID, models.LeadCalling,
	)
	if err != nil {
		return fmt.Errorf("deleting lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lead not deleted (missing or currently calling)")
	}
	return nil
}

// SetStatus updates only the lead status.
func (r *leadRepo) SetStatus(ctx context.Context, id string, status models.LeadStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting lead status: %w", err)
	}
	return nil
}

// MarkCalling moves a lead to calling and records the attempt count.
func (r *leadRepo) MarkCalling(ctx context.Context, id string, attempts int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		models.LeadCalling, attempts, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking lead calling: %w", err)
	}
	return nil
}

// UpsertByPhone finds or creates a lead keyed by (campaign, phone).
func (r *leadRepo) UpsertByPhone(ctx context.Context, lead *models.Lead) (*models.Lead, bool, error) {
	existing, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE campaign_id = ? AND phone_number = ?`,
		lead.CampaignID, lead.PhoneNumber,
	))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = models.LeadPending
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO leads (id, tenant_id, campaign_id, phone_number, name,
		 priority, status, attempts, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TenantID, lead.CampaignID, lead.PhoneNumber, lead.Name,
		lead.Priority, lead.Status, lead.Attempts, lead.Metadata,
		lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		// A concurrent inbound call may have created the row between the
		// lookup and the insert.
		if IsUniqueViolation(err) {
			existing, lookupErr := r.scanOne(r.db.QueryRowContext(ctx,
				`SELECT `+leadColumns+` FROM leads WHERE campaign_id = ? AND phone_number = ?`,
				lead.CampaignID, lead.PhoneNumber,
			))
			if lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("upserting lead: %w", err)
	}
	return lead, true, nil
}

// StatsByTenant aggregates lead counts by status for a tenant.
func (r *leadRepo) StatsByTenant(ctx context.Context, tenantID string) (LeadStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE tenant_id = ? GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return LeadStats{}, fmt.Errorf("querying lead stats: %w", err)
	}
	defer rows.Close()

	var stats LeadStats
	for rows.Next() {
		var status models.LeadStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return LeadStats{}, fmt.Errorf("scanning lead stats row: %w", err)
		}
		stats.Total += count
		switch status {
		case models.LeadPending:
			stats.Pending = count
		case models.LeadCalling:
			stats.Calling = count
		case models.LeadCompleted:
			stats.Completed = count
		case models.LeadFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return LeadStats{}, fmt.Errorf("iterating lead stats rows: %w", err)
	}
	return stats, nil
}

// CountByStatus returns per-status lead counts for a campaign.
func (r *leadRepo) CountByStatus(ctx context.Context, campaignID string) (map[models.LeadStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE campaign_id = ? GROUP BY status`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting leads by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.LeadStatus]int64)
	for rows.Next() {
		var status models.LeadStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning lead count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lead count rows: %w", err)
	}
	return counts, nil
}

// RecoverOrphans marks leads stuck in calling as failed and appends an
// "orphaned" call log row for each so the failure reason is durable.
func (r *leadRepo) RecoverOrphans(ctx context.Context) (int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, campaign_id, phone_number FROM leads WHERE status = ?`,
		models.LeadCalling,
	)
	if err != nil {
		return 0, fmt.Errorf("querying orphaned leads: %w", err)
	}
	defer rows.Close()

	type orphan struct {
		id, tenantID, campaignID, phone string
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.tenantID, &o.campaignID, &o.phone); err != nil {
			return 0, fmt.Errorf("scanning orphaned lead: %w", err)
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating orphaned leads: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, o := range orphans {
		if _, err := tx.ExecContext(ctx,
			`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
			models.LeadFailed, now, o.id,
		); err != nil {
			return 0, fmt.Errorf("failing orphaned lead: %w", err)
		}
		leadID := o.id
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_logs (id, tenant_id, campaign_id, lead_id, phone_number,
			 status, error, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), o.tenantID, o.campaignID, leadID, o.phone,
			models.CallFailed, "orphaned", `{"recovered_at_boot":true}`, now,
		); err != nil {
			return 0, fmt.Errorf("logging orphaned lead: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing orphan recovery: %w", err)
	}
	return int64(len(orphans)), nil
}

func (r *leadRepo) scanRows(rows *sql.Rows) ([]models.Lead, error) {
	var leads []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.PhoneNumber,
			&l.Name, &l.Priority, &l.Status, &l.Attempts, &l.Metadata,
			&l.LastCallAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lead rows: %w", err)
	}
	return leads, nil
}

func (r *leadRepo) scanOne(row *sql.Row) (*models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.PhoneNumber,
		&l.Name, &l.Priority, &l.Status, &l.Attempts, &l.Metadata,
		&l.LastCallAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning lead: %w", err)
	}
	return &l, nil
}
