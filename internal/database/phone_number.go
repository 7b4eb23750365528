package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// phoneNumberRepo implements PhoneNumberRepository.
type phoneNumberRepo struct {
	db *DB
}

// NewPhoneNumberRepository creates a new PhoneNumberRepository.
func NewPhoneNumberRepository(db *DB) PhoneNumberRepository {
	return &phoneNumberRepo{db: db}
}

const phoneNumberColumns = `id, tenant_id, number, provider_sid, type, provider,
	 campaign_id, livekit_trunk_id, is_active, created_at, updated_at`

// Create inserts a new phone number. Number is globally unique; a duplicate
// surfaces as a unique violation.
func (r *phoneNumberRepo) Create(ctx context.Context, num *models.PhoneNumber) error {
	now := time.Now().UTC()
	num.CreatedAt = now
	num.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO phone_numbers (id, tenant_id, number, provider_sid, type,
		 provider, campaign_id, livekit_trunk_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		num.ID, num.TenantID, num.Number, num.ProviderSID, num.Type,
		num.Provider, num.CampaignID, num.LiveKitTrunkID, num.IsActive,
		num.CreatedAt, num.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting phone number: %w", err)
	}
	return nil
}

// GetByID returns a phone number scoped to a tenant, or nil if not found.
func (r *phoneNumberRepo) GetByID(ctx context.Context, tenantID, id string) (*models.PhoneNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	))
}

// GetByNumber returns the phone number record for an E.164 number, or nil if
// not provisioned. This is the inbound routing lookup and is not tenant
// scoped: the caller is the telephony fabric, not an account.
func (r *phoneNumberRepo) GetByNumber(ctx context.Context, number string) (*models.PhoneNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE number = ?`, number,
	))
}

// List returns a tenant's phone numbers ordered by creation time.
func (r *phoneNumberRepo) List(ctx context.Context, tenantID string) ([]models.PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE tenant_id = ? ORDER BY created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing phone numbers: %w", err)
	}
	defer rows.Close()

	var nums []models.PhoneNumber
	for rows.Next() {
		var n models.PhoneNumber
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Number, &n.ProviderSID, &n.Type,
			&n.Provider, &n.CampaignID, &n.LiveKitTrunkID, &n.IsActive,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning phone number row: %w", err)
		}
		nums = append(nums, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating phone number rows: %w", err)
	}
	return nums, nil
}

// Update modifies an existing phone number.
func (r *phoneNumberRepo) Update(ctx context.Context, num *models.PhoneNumber) error {
	num.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE phone_numbers SET number = ?, provider_sid = ?, type = ?,
		 provider = ?, campaign_id = ?, livekit_trunk_id = ?, is_active = ?,
		 updated_at = ? WHERE id = ? AND tenant_id = ?`,
		num.Number, num.ProviderSID, num.Type,
		num.Provider, num.CampaignID, num.LiveKitTrunkID, num.IsActive,
		num.UpdatedAt, num.ID, num.TenantID,
	)
	if err != nil {
		return fmt.Errorf("updating phone number: %w", err)
	}
	return nil
}

// Delete removes a phone number.
func (r *phoneNumberRepo) Delete(ctx context.Context, tenantID, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM phone_numbers WHERE id = ? AND tenant_id = ?`, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deleting phone number: %w", err)
	}
	return nil
}

func (r *phoneNumberRepo) scanOne(row *sql.Row) (*models.PhoneNumber, error) {
	var n models.PhoneNumber
	err := row.Scan(&n.ID, &n.TenantID, &n.Number, &n.ProviderSID, &n.Type,
		&n.Provider, &n.CampaignID, &n.LiveKitTrunkID, &n.IsActive,
		&n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning phone number: %w", err)
	}
	return &n, nil
}
