package campaign

import (
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
)

// EventType names a runtime lifecycle event.
type EventType string

const (
	EventLeadsAdded        EventType = "leads_added"
	EventCampaignStarted   EventType = "campaign_started"
	EventCallStarted       EventType = "call_started"
	EventCallCompleted     EventType = "call_completed"
	EventCallFailed        EventType = "call_failed"
	EventCampaignPaused    EventType = "campaign_paused"
	EventCampaignResumed   EventType = "campaign_resumed"
	EventCampaignStopped   EventType = "campaign_stopped"
	EventCampaignCompleted EventType = "campaign_completed"
)

// Event is one runtime lifecycle event delivered to the reconciler. Seq is
// monotonic within a campaign; per-lead ordering follows Seq.
type Event struct {
	Type       EventType
	Seq        uint64
	CampaignID string
	TenantID   string
	At         time.Time

	// call events
	Lead       *models.Lead
	AgentID    string
	RoomName   string
	DispatchID string
	SIPCallID  string
	Error      string
	WillRetry  bool

	// leads_added
	LeadCount int

	// terminal campaign events
	Stats *Stats
}

// Stats is a point-in-time view of a run.
type Stats struct {
	Pending    int          `json:"pending"`
	InFlight   int          `json:"inFlight"`
	Total      int          `json:"totalCalls"`
	Successful int          `json:"successfulCalls"`
	Failed     int          `json:"failedCalls"`
	Active     []ActiveCall `json:"activeCalls"`
}

// ActiveCall identifies one in-flight call.
type ActiveCall struct {
	LeadID      string `json:"leadId"`
	PhoneNumber string `json:"phoneNumber"`
	AgentID     string `json:"agentId"`
	RoomName    string `json:"roomName"`
}
