package database

import (
	"context"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// TenantRepository manages tenant records.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
}

// CampaignRepository manages campaign records. Reads are tenant-scoped except
// the Any variants used by the runtime and boot recovery, which already hold a
// trusted campaign id.
type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Campaign, error)
	GetAny(ctx context.Context, id string) (*models.Campaign, error)
	List(ctx context.Context, tenantID string) ([]models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error
	Delete(ctx context.Context, tenantID, id string) error
	SetStatus(ctx context.Context, id string, status models.CampaignStatus) error
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkFinished(ctx context.Context, id string, status models.CampaignStatus, at time.Time, total, successful, failed int) error
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]models.Campaign, error)
}

// LeadListFilter specifies filtering and pagination for lead list queries.
type LeadListFilter struct {
	Status models.LeadStatus // empty for all
	Limit  int
	Offset int
}

// LeadStats aggregates lead counts by status.
type LeadStats struct {
	Total     int64
	Pending   int64
	Calling   int64
	Completed int64
	Failed    int64
}

// LeadRepository manages campaign leads.
type LeadRepository interface {
	// BulkCreate inserts the given leads, silently skipping rows that would
	// violate the (tenant, campaign, phone) uniqueness constraint. Returns
	// the number actually created.
	BulkCreate(ctx context.Context, leads []*models.Lead) (int, error)
	GetByID(ctx context.Context, tenantID, id string) (*models.Lead, error)
	ListByCampaign(ctx context.Context, tenantID, campaignID string, filter LeadListFilter) ([]models.Lead, int, error)
	// ListPending returns pending leads for a campaign ordered by priority
	// then insertion order, for seeding the runtime queue.
	ListPending(ctx context.Context, campaignID string) ([]models.Lead, error)
	Delete(ctx context.Context, tenantID, id string) error
	SetStatus(ctx context.Context, id string, status models.LeadStatus) error
	MarkCalling(ctx context.Context, id string, attempts int) error
	// UpsertByPhone finds or creates a lead keyed by (campaign, phone) for
	// inbound calls. Returns the lead and whether it was created.
	UpsertByPhone(ctx context.Context, lead *models.Lead) (*models.Lead, bool, error)
	StatsByTenant(ctx context.Context, tenantID string) (LeadStats, error)
	CountByStatus(ctx context.Context, campaignID string) (map[models.LeadStatus]int64, error)
	// RecoverOrphans marks leads stuck in calling as failed and appends an
	// "orphaned" call log row for each. Used once at boot, before any
	// campaign is resumed.
	RecoverOrphans(ctx context.Context) (int64, error)
}

// AgentRepository manages AI agent records.
type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context) ([]models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
	// OldestActive returns the earliest-created active agent, or nil if none.
	OldestActive(ctx context.Context) (*models.Agent, error)
	OldestActiveForTenantCampaigns(ctx context.Context, tenantID string) (*models.Agent, error)
}

// CampaignAgentRepository manages campaign/agent assignments.
type CampaignAgentRepository interface {
	Assign(ctx context.Context, ca *models.CampaignAgent) error
	Unassign(ctx context.Context, campaignID, agentID string) error
	// ListAssignments returns active agents assigned to the campaign ordered
	// is_primary desc, created_at asc — the selector's scan order.
	ListAssignments(ctx context.Context, campaignID string) ([]models.AgentAssignment, error)
}

// PhoneNumberRepository manages provisioned inbound numbers.
type PhoneNumberRepository interface {
	Create(ctx context.Context, num *models.PhoneNumber) error
	GetByID(ctx context.Context, tenantID, id string) (*models.PhoneNumber, error)
	// GetByNumber is the inbound routing lookup; it is intentionally global.
	GetByNumber(ctx context.Context, number string) (*models.PhoneNumber, error)
	List(ctx context.Context, tenantID string) ([]models.PhoneNumber, error)
	Update(ctx context.Context, num *models.PhoneNumber) error
	Delete(ctx context.Context, tenantID, id string) error
}

// CallLogRepository manages call log rows.
type CallLogRepository interface {
	Create(ctx context.Context, log *models.CallLog) error
	GetByID(ctx context.Context, tenantID, id string) (*models.CallLog, error)
	// GetByCallSIDOrRoom locates a log row for call-ended reconciliation.
	GetByCallSIDOrRoom(ctx context.Context, callSID, roomName string) (*models.CallLog, error)
	ListByCampaign(ctx context.Context, tenantID, campaignID string, limit, offset int) ([]models.CallLog, int, error)
	// AppendWithLeadUpdate inserts the log row and moves the linked lead to
	// the given status in one transaction.
	AppendWithLeadUpdate(ctx context.Context, log *models.CallLog, leadStatus models.LeadStatus, lastCallAt *time.Time) error
	// FinishInbound updates a ringing log row on room close and, when the
	// log links a lead, completes that lead in the same transaction.
	FinishInbound(ctx context.Context, id string, duration int, metadata string, leadID *string, at time.Time) error
	CountByStatus(ctx context.Context) (map[models.CallStatus]int64, error)
	CountByTenant(ctx context.Context, tenantID string) (int64, error)
}
