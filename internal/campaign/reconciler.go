package campaign

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// Reconciler consumes one runtime's event stream and writes the durable
// consequences. Consumption is serial per campaign, which preserves per-lead
// ordering; a failed write is logged and the event dropped, never fatal.
type Reconciler struct {
	campaigns database.CampaignRepository
	leads     database.LeadRepository
	callLogs  database.CallLogRepository
	log       *slog.Logger
}

// NewReconciler creates a reconciler over the given repositories.
func NewReconciler(campaigns database.CampaignRepository, leads database.LeadRepository, callLogs database.CallLogRepository, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		campaigns: campaigns,
		leads:     leads,
		callLogs:  callLogs,
		log:       log,
	}
}

// Run drains events until the channel closes. Intended to run as one
// goroutine per campaign runtime.
func (rc *Reconciler) Run(ctx context.Context, events <-chan Event) {
	for ev := range events {
		if err := rc.apply(ctx, ev); err != nil {
			rc.log.Error("dropping event after write failure",
				"event", ev.Type,
				"campaign_id", ev.CampaignID,
				"seq", ev.Seq,
				"error", err)
		}
	}
}

func (rc *Reconciler) apply(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCampaignStarted:
		return rc.campaigns.MarkStarted(ctx, ev.CampaignID, ev.At)

	case EventCampaignPaused:
		return rc.campaigns.SetStatus(ctx, ev.CampaignID, models.CampaignPaused)

	case EventCampaignResumed:
		return rc.campaigns.SetStatus(ctx, ev.CampaignID, models.CampaignActive)

	case EventCampaignStopped:
		return rc.campaigns.MarkFinished(ctx, ev.CampaignID, models.CampaignStopped, ev.At,
			ev.Stats.Total, ev.Stats.Successful, ev.Stats.Failed)

	case EventCampaignCompleted:
		return rc.campaigns.MarkFinished(ctx, ev.CampaignID, models.CampaignCompleted, ev.At,
			ev.Stats.Total, ev.Stats.Successful, ev.Stats.Failed)

	case EventCallStarted:
		return rc.leads.MarkCalling(ctx, ev.Lead.ID, ev.Lead.Attempts)

	case EventCallCompleted:
		at := ev.At
		return rc.callLogs.AppendWithLeadUpdate(ctx, &models.CallLog{
			ID:          uuid.NewString(),
			TenantID:    ev.TenantID,
			CampaignID:  ev.CampaignID,
			LeadID:      &ev.Lead.ID,
			PhoneNumber: ev.Lead.PhoneNumber,
			Status:      models.CallCompleted,
			CallSID:     ev.SIPCallID,
			RoomName:    ev.RoomName,
			DispatchID:  ev.DispatchID,
			CreatedAt:   ev.At,
		}, models.LeadCompleted, &at)

	case EventCallFailed:
		at := ev.At
		leadStatus := models.LeadFailed
		if ev.WillRetry {
			leadStatus = models.LeadPending
		}
		return rc.callLogs.AppendWithLeadUpdate(ctx, &models.CallLog{
			ID:          uuid.NewString(),
			TenantID:    ev.TenantID,
			CampaignID:  ev.CampaignID,
			LeadID:      &ev.Lead.ID,
			PhoneNumber: ev.Lead.PhoneNumber,
			Status:      models.CallFailed,
			RoomName:    ev.RoomName,
			DispatchID:  ev.DispatchID,
			Error:       ev.Error,
			CreatedAt:   ev.At,
		}, leadStatus, &at)

	case EventLeadsAdded:
		// leads are already persisted by the ingest path
		rc.log.Info("leads added to running campaign",
			"campaign_id", ev.CampaignID, "count", ev.LeadCount)
		return nil
	}
	return nil
}
