package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStopped || s == CampaignCompleted || s == CampaignFailed
}

// LeadStatus is the lifecycle state of a lead within a campaign run.
type LeadStatus string

const (
	LeadPending   LeadStatus = "pending"
	LeadCalling   LeadStatus = "calling"
	LeadCompleted LeadStatus = "completed"
	LeadFailed    LeadStatus = "failed"
)

// CallStatus is the state of a call log row.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
)

// SelectionStrategy names an agent selection policy.
type SelectionStrategy string

const (
	StrategyPrimaryFirst SelectionStrategy = "primary_first"
	StrategyRoundRobin   SelectionStrategy = "round_robin"
	StrategyLeastLoaded  SelectionStrategy = "least_loaded"
	StrategyRandom       SelectionStrategy = "random"
)

// ValidStrategy reports whether s is a known selection strategy.
func ValidStrategy(s SelectionStrategy) bool {
	switch s {
	case StrategyPrimaryFirst, StrategyRoundRobin, StrategyLeastLoaded, StrategyRandom:
		return true
	}
	return false
}

// PhoneNumberType classifies a provisioned number.
type PhoneNumberType string

const (
	NumberLocal    PhoneNumberType = "LOCAL"
	NumberMobile   PhoneNumberType = "MOBILE"
	NumberTollFree PhoneNumberType = "TOLL_FREE"
)

// Tenant is the root of access scoping. Every campaign, lead, phone number
// and call log row carries the owning tenant id.
type Tenant struct {
	ID        string
	Domain    string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Campaign is a batch of leads dispatched with shared concurrency and retry
// policy. Status and aggregate fields are written by the campaign runtime;
// everything else may only change while the campaign is not active.
type Campaign struct {
	ID              string
	TenantID        string
	Name            string
	Status          CampaignStatus
	Strategy        SelectionStrategy
	MaxConcurrent   int
	RetryFailed     bool
	RetryAttempts   int
	CallDelayMs     int
	SIPTrunkID      string
	CallerIDNumber  string
	AgentName       string // overrides agent selection when set
	StartedAt       *time.Time
	CompletedAt     *time.Time
	TotalCalls      int
	SuccessfulCalls int
	FailedCalls     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Lead is a target phone number within a campaign. (campaign_id, phone_number)
// is unique; deletion is blocked while the lead is calling.
type Lead struct {
	ID          string
	TenantID    string
	CampaignID  string
	PhoneNumber string // E.164
	Name        string
	Priority    int // lower dials earlier
	Status      LeadStatus
	Attempts    int
	Metadata    string // JSON object, may be empty
	LastCallAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Agent is a conversational worker the telephony fabric dispatches by name.
type Agent struct {
	ID                 string
	Name               string
	IsActive           bool
	MaxConcurrentCalls int
	LiveKitAgentName   string // fabric dispatch name; falls back to Name
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DispatchName returns the name the fabric should dispatch for this agent.
func (a *Agent) DispatchName() string {
	if a.LiveKitAgentName != "" {
		return a.LiveKitAgentName
	}
	return a.Name
}

// CampaignAgent links an agent to a campaign. Unique on (campaign_id, agent_id).
type CampaignAgent struct {
	CampaignID string
	AgentID    string
	IsPrimary  bool
	CreatedAt  time.Time
}

// AgentAssignment is a campaign agent joined with its agent record, ordered
// is_primary desc, created_at asc by the repository.
type AgentAssignment struct {
	Agent     Agent
	IsPrimary bool
	CreatedAt time.Time
}

// PhoneNumber is a provisioned inbound number. Number is globally unique and
// is the inbound routing key.
type PhoneNumber struct {
	ID             string
	TenantID       string
	Number         string // E.164
	ProviderSID    string
	Type           PhoneNumberType
	Provider       string
	CampaignID     *string
	LiveKitTrunkID string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CallLog records one call attempt, outbound or inbound.
type CallLog struct {
	ID          string
	TenantID    string
	CampaignID  string
	LeadID      *string
	PhoneNumber string
	Status      CallStatus
	CallSID     string
	RoomName    string
	DispatchID  string
	Duration    *int // seconds
	Error       string
	Metadata    string // JSON object, may be empty
	CreatedAt   time.Time
}
