package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// callLogRepo implements CallLogRepository.
type callLogRepo struct {
	db *DB
}

// NewCallLogRepository creates a new CallLogRepository.
func NewCallLogRepository(db *DB) CallLogRepository {
	return &callLogRepo{db: db}
}

const callLogColumns = `id, tenant_id, campaign_id, lead_id, phone_number, status,
	 call_sid, room_name, dispatch_id, duration, error, metadata, created_at`

// Create inserts a call log row.
func (r *callLogRepo) Create(ctx context.Context, log *models.CallLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_logs (id, tenant_id, campaign_id, lead_id, phone_number,
		 status, call_sid, room_name, dispatch_id, duration, error, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.TenantID, log.CampaignID, log.LeadID, log.PhoneNumber,
		log.Status, log.CallSID, log.RoomName, log.DispatchID, log.Duration,
		log.Error, log.Metadata, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call log: %w", err)
	}
	return nil
}

// GetByID returns a call log scoped to a tenant, or nil if not found.
func (r *callLogRepo) GetByID(ctx context.Context, tenantID, id string) (*models.CallLog, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callLogColumns+` FROM call_logs WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	))
}

// GetByCallSIDOrRoom locates a log row by provider call id, falling back to
// room name. Used to reconcile call-ended webhooks, which may carry either.
func (r *callLogRepo) GetByCallSIDOrRoom(ctx context.Context, callSID, roomName string) (*models.CallLog, error) {
	if callSID != "" {
		log, err := r.scanOne(r.db.QueryRowContext(ctx,
			`SELECT `+callLogColumns+` FROM call_logs WHERE call_sid = ?
			 ORDER BY created_at DESC LIMIT 1`, callSID,
		))
		if err != nil || log != nil {
			return log, err
		}
	}
	if roomName == "" {
		return nil, nil
	}
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callLogColumns+` FROM call_logs WHERE room_name = ?
		 ORDER BY created_at DESC LIMIT 1`, roomName,
	))
}

// ListByCampaign returns a page of call logs for a campaign, newest first,
// with the total row count.
func (r *callLogRepo) ListByCampaign(ctx context.Context, tenantID, campaignID string, limit, offset int) ([]models.CallLog, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_logs WHERE campaign_id = ? AND tenant_id = ?`,
		campaignID, tenantID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting call logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callLogColumns+` FROM call_logs
		 WHERE campaign_id = ? AND tenant_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		campaignID, tenantID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CallLog
	for rows.Next() {
		var l models.CallLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.LeadID,
			&l.PhoneNumber, &l.Status, &l.CallSID, &l.RoomName, &l.DispatchID,
			&l.Duration, &l.Error, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning call log row: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call log rows: %w", err)
	}
	return logs, total, nil
}

// AppendWithLeadUpdate inserts the log row and moves the linked lead to the
// given status in one transaction, so an attempt and its outcome can never
// disagree.
func (r *callLogRepo) AppendWithLeadUpdate(ctx context.Context, log *models.CallLog, leadStatus models.LeadStatus, lastCallAt *time.Time) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO call_logs (id, tenant_id, campaign_id, lead_id, phone_number,
		 status, call_sid, room_name, dispatch_id, duration, error, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.TenantID, log.CampaignID, log.LeadID, log.PhoneNumber,
		log.Status, log.CallSID, log.RoomName, log.DispatchID, log.Duration,
		log.Error, log.Metadata, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call log: %w", err)
	}

	if log.LeadID != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE leads SET status = ?, last_call_at = ?, updated_at = ? WHERE id = ?`,
			leadStatus, lastCallAt, time.Now().UTC(), *log.LeadID,
		)
		if err != nil {
			return fmt.Errorf("updating lead outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing call log append: %w", err)
	}
	return nil
}

// FinishInbound closes out a ringing inbound log row when the room ends,
// completing the linked lead in the same transaction when one exists.
func (r *callLogRepo) FinishInbound(ctx context.Context, id string, duration int, metadata string, leadID *string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE call_logs SET status = ?, duration = ?, metadata = ? WHERE id = ?`,
		models.CallCompleted, duration, metadata, id,
	)
	if err != nil {
		return fmt.Errorf("finishing inbound call log: %w", err)
	}

	if leadID != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE leads SET status = ?, last_call_at = ?, updated_at = ? WHERE id = ?`,
			models.LeadCompleted, at.UTC(), time.Now().UTC(), *leadID,
		)
		if err != nil {
			return fmt.Errorf("completing inbound lead: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing inbound finish: %w", err)
	}
	return nil
}

// CountByStatus returns call log counts grouped by status, for metrics.
func (r *callLogRepo) CountByStatus(ctx context.Context) (map[models.CallStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM call_logs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting call logs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CallStatus]int64)
	for rows.Next() {
		var status models.CallStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning call log count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call log counts: %w", err)
	}
	return counts, nil
}

// CountByTenant returns the total call log rows for a tenant.
func (r *callLogRepo) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_logs WHERE tenant_id = ?`, tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tenant call logs: %w", err)
	}
	return n, nil
}

func (r *callLogRepo) scanOne(row *sql.Row) (*models.CallLog, error) {
	var l models.CallLog
	err := row.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.LeadID,
		&l.PhoneNumber, &l.Status, &l.CallSID, &l.RoomName, &l.DispatchID,
		&l.Duration, &l.Error, &l.Metadata, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call log: %w", err)
	}
	return &l, nil
}
