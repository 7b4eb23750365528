// Package inbound resolves incoming SIP calls to an agent and records the
// session. The invite path must always answer with a usable agent name, even
// when the store misbehaves: an unanswerable webhook drops a live call.
package inbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/phone"
)

// storeBudget bounds the lead and call-log writes on the invite path so a
// slow store cannot delay the webhook response.
const storeBudget = 2 * time.Second

// AgentPicker selects an agent for a campaign-linked inbound call.
type AgentPicker interface {
	Select(ctx context.Context, campaignID string, strategy models.SelectionStrategy) (*models.Agent, error)
	SystemDefault() *models.Agent
}

// Invite is the SIP INVITE webhook payload.
type Invite struct {
	CallID           string `json:"call_id"`
	TrunkID          string `json:"trunk_id"`
	TrunkPhoneNumber string `json:"trunk_phone_number"`
	FromNumber       string `json:"from_number"`
	ToNumber         string `json:"to_number"`
	RoomName         string `json:"room_name"`
}

// InviteResponse tells the fabric which agent to dispatch into the room.
type InviteResponse struct {
	AgentName  string            `json:"agent_name"`
	Metadata   string            `json:"metadata"`
	Attributes map[string]string `json:"attributes"`
}

// Router handles inbound call webhooks.
type Router struct {
	numbers            database.PhoneNumberRepository
	agents             database.AgentRepository
	leads              database.LeadRepository
	callLogs           database.CallLogRepository
	picker             AgentPicker
	defaultCountryCode string
	log                *slog.Logger
}

// NewRouter wires an inbound router.
func NewRouter(
	numbers database.PhoneNumberRepository,
	agents database.AgentRepository,
	leads database.LeadRepository,
	callLogs database.CallLogRepository,
	picker AgentPicker,
	defaultCountryCode string,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		numbers:            numbers,
		agents:             agents,
		leads:              leads,
		callLogs:           callLogs,
		picker:             picker,
		defaultCountryCode: defaultCountryCode,
		log:                log.With("subsystem", "inbound"),
	}
}

// HandleInvite resolves the called number to an agent. Every return value is
// a valid response; resolution failures degrade to the system default agent.
func (r *Router) HandleInvite(ctx context.Context, inv Invite) InviteResponse {
	attrs := map[string]string{
		"inbound":      "true",
		"phone_number": inv.ToNumber,
		"caller":       inv.FromNumber,
	}

	toNumber := inv.ToNumber
	if normalized, err := phone.Normalize(inv.ToNumber, r.defaultCountryCode); err == nil {
		toNumber = normalized
	}

	pn, err := r.numbers.GetByNumber(ctx, toNumber)
	if err != nil {
		r.log.Error("phone number lookup failed", "to", toNumber, "error", err)
		return r.defaultResponse(inv, attrs, "lookup_failed")
	}
	if pn == nil {
		r.log.Info("inbound call to unprovisioned number", "to", toNumber)
		return r.defaultResponse(inv, attrs, "unmatched")
	}

	agent := r.resolveAgent(ctx, pn)

	meta := map[string]any{
		"call_type":       "inbound",
		"phone_number_id": pn.ID,
		"tenant_id":       pn.TenantID,
		"from":            inv.FromNumber,
		"to":              toNumber,
	}
	if pn.CampaignID != nil {
		meta["campaign_id"] = *pn.CampaignID
		r.recordSession(ctx, inv, pn, agent)
	}
	metadata, _ := json.Marshal(meta)

	return InviteResponse{
		AgentName:  agent.DispatchName(),
		Metadata:   string(metadata),
		Attributes: attrs,
	}
}

// resolveAgent walks the resolution chain: campaign selector, then the
// tenant's oldest active agent, then the system default.
func (r *Router) resolveAgent(ctx context.Context, pn *models.PhoneNumber) *models.Agent {
	if pn.CampaignID != nil {
		agent, err := r.picker.Select(ctx, *pn.CampaignID, models.StrategyLeastLoaded)
		if err == nil && agent != nil {
			return agent
		}
		if err != nil {
			r.log.Error("campaign agent selection failed", "campaign_id", *pn.CampaignID, "error", err)
		}
	}

	agent, err := r.agents.OldestActiveForTenantCampaigns(ctx, pn.TenantID)
	if err != nil {
		r.log.Error("tenant agent lookup failed", "tenant_id", pn.TenantID, "error", err)
	}
	if agent != nil {
		return agent
	}
	return r.picker.SystemDefault()
}

// recordSession upserts the caller as a lead and opens a ringing call-log
// row. Failures are logged; the invite response does not depend on them.
func (r *Router) recordSession(ctx context.Context, inv Invite, pn *models.PhoneNumber, agent *models.Agent) {
	ctx, cancel := context.WithTimeout(ctx, storeBudget)
	defer cancel()

	fromNumber := inv.FromNumber
	if normalized, err := phone.Normalize(inv.FromNumber, r.defaultCountryCode); err == nil {
		fromNumber = normalized
	}

	lead, created, err := r.leads.UpsertByPhone(ctx, &models.Lead{
		TenantID:    pn.TenantID,
		CampaignID:  *pn.CampaignID,
		PhoneNumber: fromNumber,
		Status:      models.LeadPending,
	})
	if err != nil {
		r.log.Error("inbound lead upsert failed", "from", fromNumber, "error", err)
	}
	if created {
		r.log.Info("created lead from inbound call", "campaign_id", *pn.CampaignID, "from", fromNumber)
	}

	metadata, _ := json.Marshal(map[string]any{
		"direction":  "inbound",
		"trunk_id":   inv.TrunkID,
		"agent_id":   agent.ID,
		"agent_name": agent.DispatchName(),
	})
	log := &models.CallLog{
		ID:          uuid.NewString(),
		TenantID:    pn.TenantID,
		CampaignID:  *pn.CampaignID,
		PhoneNumber: fromNumber,
		Status:      models.CallRinging,
		CallSID:     inv.CallID,
		RoomName:    inv.RoomName,
		Metadata:    string(metadata),
	}
	if lead != nil {
		log.LeadID = &lead.ID
	}
	if err := r.callLogs.Create(ctx, log); err != nil {
		r.log.Error("inbound call log write failed", "call_id", inv.CallID, "error", err)
	}
}

func (r *Router) defaultResponse(inv Invite, attrs map[string]string, resolution string) InviteResponse {
	metadata, _ := json.Marshal(map[string]any{
		"call_type":  "inbound",
		"resolution": resolution,
		"from":       inv.FromNumber,
		"to":         inv.ToNumber,
	})
	return InviteResponse{
		AgentName:  r.picker.SystemDefault().DispatchName(),
		Metadata:   string(metadata),
		Attributes: attrs,
	}
}

// HandleCallEnded reconciles a room-finished event against the call log.
// Missing rows are ignored: outbound rooms are reconciled by their runtime.
func (r *Router) HandleCallEnded(ctx context.Context, callID, roomName string, duration int, reason string) error {
	log, err := r.callLogs.GetByCallSIDOrRoom(ctx, callID, roomName)
	if err != nil {
		return err
	}
	if log == nil || log.Status != models.CallRinging {
		return nil
	}

	meta := map[string]any{}
	if log.Metadata != "" {
		_ = json.Unmarshal([]byte(log.Metadata), &meta)
	}
	if reason != "" {
		meta["disconnect_reason"] = reason
	}
	metadata, _ := json.Marshal(meta)

	return r.callLogs.FinishInbound(ctx, log.ID, duration, string(metadata), log.LeadID, time.Now().UTC())
}
