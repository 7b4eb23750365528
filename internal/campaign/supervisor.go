package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

var (
	// ErrCampaignNotFound means no campaign row matched.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignActive means start was called on an already running campaign.
	ErrCampaignActive = errors.New("campaign is already active")
	// ErrCampaignTerminal means the campaign can no longer run.
	ErrCampaignTerminal = errors.New("campaign is in a terminal state")
	// ErrNotRunning means no runtime exists for the campaign.
	ErrNotRunning = errors.New("campaign is not running")
)

// Supervisor owns the process-wide set of running campaign runtimes.
type Supervisor struct {
	campaigns database.CampaignRepository
	leads     database.LeadRepository
	callLogs  database.CallLogRepository

	dialer  Dialer
	picker  AgentPicker
	tracker LoadCounter
	opts    RuntimeOptions
	log     *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewSupervisor wires a supervisor over the store and call dependencies.
func NewSupervisor(
	campaigns database.CampaignRepository,
	leads database.LeadRepository,
	callLogs database.CallLogRepository,
	dialer Dialer,
	picker AgentPicker,
	tracker LoadCounter,
	opts RuntimeOptions,
) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		campaigns: campaigns,
		leads:     leads,
		callLogs:  callLogs,
		dialer:    dialer,
		picker:    picker,
		tracker:   tracker,
		opts:      opts,
		log:       log.With("subsystem", "supervisor"),
		runtimes:  make(map[string]*Runtime),
	}
}

// Start validates and launches a campaign run. The runtime's event stream is
// consumed by a dedicated reconciler goroutine; the runtime is evicted from
// the registry only after the stream has been fully applied, so a campaign
// whose stored status is terminal never also reports live stats.
func (s *Supervisor) Start(ctx context.Context, tenantID, campaignID string) error {
	s.mu.Lock()
	if _, running := s.runtimes[campaignID]; running {
		s.mu.Unlock()
		return ErrCampaignActive
	}
	s.mu.Unlock()

	c, err := s.campaigns.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return fmt.Errorf("loading campaign: %w", err)
	}
	if c == nil {
		return ErrCampaignNotFound
	}
	if c.Status == models.CampaignActive {
		return ErrCampaignActive
	}
	if c.Status.Terminal() {
		return ErrCampaignTerminal
	}
	if c.SIPTrunkID == "" {
		return ErrNoTrunk
	}

	leads, err := s.leads.ListPending(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("loading pending leads: %w", err)
	}
	if len(leads) == 0 {
		return ErrNoPendingLeads
	}

	rt := NewRuntime(*c, leads, s.dialer, s.picker, s.tracker, s.opts)

	s.mu.Lock()
	if _, running := s.runtimes[campaignID]; running {
		s.mu.Unlock()
		return ErrCampaignActive
	}
	s.runtimes[campaignID] = rt
	s.mu.Unlock()

	if err := rt.Start(context.WithoutCancel(ctx)); err != nil {
		s.mu.Lock()
		delete(s.runtimes, campaignID)
		s.mu.Unlock()
		return err
	}

	rc := NewReconciler(s.campaigns, s.leads, s.callLogs, s.log)
	go s.reconcileAndEvict(context.WithoutCancel(ctx), campaignID, rt, rc)

	s.log.Info("campaign started", "campaign_id", campaignID, "pending", len(leads))
	return nil
}

// reconcileAndEvict applies the runtime's event stream and then removes the
// runtime from the registry. Eviction waits for the terminal event's store
// write, keeping stored status and registry membership in sync for readers.
func (s *Supervisor) reconcileAndEvict(ctx context.Context, campaignID string, rt *Runtime, rc *Reconciler) {
	rc.Run(ctx, rt.Events())
	<-rt.Done()
	s.mu.Lock()
	if s.runtimes[campaignID] == rt {
		delete(s.runtimes, campaignID)
	}
	s.mu.Unlock()
	s.log.Info("campaign runtime finished", "campaign_id", campaignID)
}

// Pause halts new dispatch on a running campaign.
func (s *Supervisor) Pause(campaignID string) error {
	rt, ok := s.runtime(campaignID)
	if !ok {
		return ErrNotRunning
	}
	return rt.Pause()
}

// Resume clears a pause on a running campaign.
func (s *Supervisor) Resume(campaignID string) error {
	rt, ok := s.runtime(campaignID)
	if !ok {
		return ErrNotRunning
	}
	return rt.Resume()
}

// Stop ends a running campaign. In-flight calls finish and are reconciled.
func (s *Supervisor) Stop(campaignID string) error {
	rt, ok := s.runtime(campaignID)
	if !ok {
		return ErrNotRunning
	}
	return rt.Stop()
}

// AddLeads feeds freshly persisted leads into a running campaign. Returns
// false when no runtime accepted them; the rows stay pending in the store
// until the campaign is started again.
func (s *Supervisor) AddLeads(campaignID string, leads []models.Lead) bool {
	rt, ok := s.runtime(campaignID)
	if !ok {
		return false
	}
	return rt.AddLeads(leads)
}

// Status returns the live stats for a running campaign.
func (s *Supervisor) Status(campaignID string) (Stats, bool) {
	rt, ok := s.runtime(campaignID)
	if !ok {
		return Stats{}, false
	}
	return rt.Status(), true
}

// ActiveCampaigns returns the ids of campaigns with a live runtime.
func (s *Supervisor) ActiveCampaigns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	return ids
}

// InFlightTotal returns the number of in-flight calls across all runtimes.
func (s *Supervisor) InFlightTotal() int {
	s.mu.Lock()
	rts := make([]*Runtime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		rts = append(rts, rt)
	}
	s.mu.Unlock()

	total := 0
	for _, rt := range rts {
		total += rt.Status().InFlight
	}
	return total
}

// Shutdown stops all runtimes and waits for in-flight calls up to the
// deadline. Calls still unfinished at the deadline stay durable as leads in
// calling state; boot recovery marks them failed next start.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	rts := make([]*Runtime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		rts = append(rts, rt)
	}
	s.mu.Unlock()

	for _, rt := range rts {
		if err := rt.Stop(); err != nil && !errors.Is(err, ErrNotActive) {
			s.log.Warn("stopping runtime at shutdown", "error", err)
		}
	}

	deadline := time.After(timeout)
	for _, rt := range rts {
		select {
		case <-rt.Done():
		case <-deadline:
			s.log.Warn("shutdown deadline reached with calls in flight")
			return
		}
	}
}

// RecoverAtBoot repairs state left behind by a crash: leads stuck in calling
// are failed with an orphaned call-log row, and campaigns still marked active
// are parked as paused so an operator can resume them.
func (s *Supervisor) RecoverAtBoot(ctx context.Context) error {
	n, err := s.leads.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("recovering orphaned leads: %w", err)
	}
	if n > 0 {
		s.log.Warn("marked orphaned leads failed", "count", n)
	}

	active, err := s.campaigns.ListByStatus(ctx, models.CampaignActive)
	if err != nil {
		return fmt.Errorf("listing active campaigns: %w", err)
	}
	for _, c := range active {
		if err := s.campaigns.SetStatus(ctx, c.ID, models.CampaignPaused); err != nil {
			return fmt.Errorf("parking campaign %s: %w", c.ID, err)
		}
		s.log.Warn("parked previously active campaign", "campaign_id", c.ID)
	}
	return nil
}

func (s *Supervisor) runtime(campaignID string) (*Runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[campaignID]
	return rt, ok
}
