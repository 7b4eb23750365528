package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/agents"
	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/livekit"
)

type supervisorFixture struct {
	db        *database.DB
	campaigns database.CampaignRepository
	leads     database.LeadRepository
	callLogs  database.CallLogRepository
	agents    database.AgentRepository
	ca        database.CampaignAgentRepository
	tracker   *agents.Tracker
	tenant    *models.Tenant
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()
	db, err := database.Open(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &supervisorFixture{
		db:        db,
		campaigns: database.NewCampaignRepository(db),
		leads:     database.NewLeadRepository(db),
		callLogs:  database.NewCallLogRepository(db),
		agents:    database.NewAgentRepository(db),
		ca:        database.NewCampaignAgentRepository(db),
		tracker:   agents.NewTracker(),
	}
	f.tenant = &models.Tenant{ID: uuid.NewString(), Domain: "acme.example.com", IsActive: true}
	if err := database.NewTenantRepository(db).Create(context.Background(), f.tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	return f
}

func (f *supervisorFixture) supervisor(dialer Dialer) *Supervisor {
	selector := agents.NewSelector(f.agents, f.ca, f.tracker, "default-agent")
	return NewSupervisor(f.campaigns, f.leads, f.callLogs, dialer, selector, f.tracker,
		RuntimeOptions{PollInterval: 5 * time.Millisecond})
}

func (f *supervisorFixture) createCampaign(t *testing.T, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		ID:            uuid.NewString(),
		TenantID:      f.tenant.ID,
		Name:          "run",
		MaxConcurrent: 2,
		SIPTrunkID:    "trunk-1",
	}
	if mutate != nil {
		mutate(c)
	}
	if err := f.campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("creating campaign: %v", err)
	}
	return c
}

func (f *supervisorFixture) addLeads(t *testing.T, campaignID string, numbers ...string) {
	t.Helper()
	batch := make([]*models.Lead, len(numbers))
	for i, n := range numbers {
		batch[i] = &models.Lead{TenantID: f.tenant.ID, CampaignID: campaignID, PhoneNumber: n}
	}
	if _, err := f.leads.BulkCreate(context.Background(), batch); err != nil {
		t.Fatalf("creating leads: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSupervisorStartValidation(t *testing.T) {
	f := newSupervisorFixture(t)
	sup := f.supervisor(&fakeDialer{})
	ctx := context.Background()

	if err := sup.Start(ctx, f.tenant.ID, uuid.NewString()); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("unknown campaign: %v, want ErrCampaignNotFound", err)
	}

	noTrunk := f.createCampaign(t, func(c *models.Campaign) { c.SIPTrunkID = "" })
	f.addLeads(t, noTrunk.ID, "+15550000001")
	if err := sup.Start(ctx, f.tenant.ID, noTrunk.ID); !errors.Is(err, ErrNoTrunk) {
		t.Errorf("no trunk: %v, want ErrNoTrunk", err)
	}

	noLeads := f.createCampaign(t, nil)
	if err := sup.Start(ctx, f.tenant.ID, noLeads.ID); !errors.Is(err, ErrNoPendingLeads) {
		t.Errorf("no leads: %v, want ErrNoPendingLeads", err)
	}

	stopped := f.createCampaign(t, nil)
	f.addLeads(t, stopped.ID, "+15550000001")
	if err := f.campaigns.SetStatus(ctx, stopped.ID, models.CampaignStopped); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := sup.Start(ctx, f.tenant.ID, stopped.ID); !errors.Is(err, ErrCampaignTerminal) {
		t.Errorf("terminal campaign: %v, want ErrCampaignTerminal", err)
	}

	// cross-tenant start does not see the campaign
	foreign := f.createCampaign(t, nil)
	f.addLeads(t, foreign.ID, "+15550000002")
	if err := sup.Start(ctx, uuid.NewString(), foreign.ID); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("cross-tenant start: %v, want ErrCampaignNotFound", err)
	}
}

func TestSupervisorRunsCampaignToCompletion(t *testing.T) {
	f := newSupervisorFixture(t)
	dialer := &fakeDialer{}
	sup := f.supervisor(dialer)
	ctx := context.Background()

	agent := &models.Agent{ID: uuid.NewString(), Name: "closer", IsActive: true, MaxConcurrentCalls: 5}
	if err := f.agents.Create(ctx, agent); err != nil {
		t.Fatalf("creating agent: %v", err)
	}

	c := f.createCampaign(t, nil)
	if err := f.ca.Assign(ctx, &models.CampaignAgent{CampaignID: c.ID, AgentID: agent.ID, IsPrimary: true}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	f.addLeads(t, c.ID, "+15550000001", "+15550000002", "+15550000003")

	if err := sup.Start(ctx, f.tenant.ID, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Start(ctx, f.tenant.ID, c.ID); !errors.Is(err, ErrCampaignActive) {
		t.Errorf("second Start: %v, want ErrCampaignActive", err)
	}

	waitFor(t, "campaign completion", func() bool {
		got, err := f.campaigns.GetByID(ctx, f.tenant.ID, c.ID)
		return err == nil && got.Status == models.CampaignCompleted
	})

	got, _ := f.campaigns.GetByID(ctx, f.tenant.ID, c.ID)
	if got.TotalCalls != 3 || got.SuccessfulCalls != 3 || got.FailedCalls != 0 {
		t.Errorf("aggregates = %d/%d/%d, want 3/3/0", got.TotalCalls, got.SuccessfulCalls, got.FailedCalls)
	}

	counts, err := f.leads.CountByStatus(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[models.LeadCompleted] != 3 {
		t.Errorf("completed leads = %d, want 3", counts[models.LeadCompleted])
	}

	_, total, err := f.callLogs.ListByCampaign(ctx, f.tenant.ID, c.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListByCampaign: %v", err)
	}
	if total != 3 {
		t.Errorf("call log rows = %d, want 3", total)
	}

	// runtime evicted after completion
	waitFor(t, "runtime eviction", func() bool {
		_, running := sup.Status(c.ID)
		return !running
	})
}

func TestSupervisorEvictionWaitsForFinalWrite(t *testing.T) {
	f := newSupervisorFixture(t)
	sup := f.supervisor(&fakeDialer{})
	ctx := context.Background()

	c := f.createCampaign(t, nil)
	f.addLeads(t, c.ID, "+15550000001", "+15550000002")

	if err := sup.Start(ctx, f.tenant.ID, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "runtime eviction", func() bool {
		_, running := sup.Status(c.ID)
		return !running
	})

	// The registry drops the runtime only after the terminal event's store
	// write, so the stored row is already terminal when live stats disappear.
	got, err := f.campaigns.GetByID(ctx, f.tenant.ID, c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.CampaignCompleted {
		t.Errorf("status at eviction = %s, want completed", got.Status)
	}
	if got.TotalCalls != 2 || got.SuccessfulCalls != 2 {
		t.Errorf("aggregates = %d/%d, want 2/2", got.TotalCalls, got.SuccessfulCalls)
	}
}

// agentRecordingDialer captures which agent each dispatch went to and holds
// participant creation open until released.
type agentRecordingDialer struct {
	mu     sync.Mutex
	byName map[string]int
	gate   chan struct{}
}

func (d *agentRecordingDialer) DispatchAgent(ctx context.Context, roomName, agentName, metadata string) (string, error) {
	d.mu.Lock()
	if d.byName == nil {
		d.byName = make(map[string]int)
	}
	d.byName[agentName]++
	d.mu.Unlock()
	return "dispatch-1", nil
}

func (d *agentRecordingDialer) CreateSIPParticipant(ctx context.Context, trunkID, e164, roomName, identity, metadata string) (*livekit.Participant, error) {
	if d.gate != nil {
		<-d.gate
	}
	return &livekit.Participant{SIPCallID: "sip-" + e164}, nil
}

func TestSupervisorPrimaryFirstCapacityFallback(t *testing.T) {
	f := newSupervisorFixture(t)
	gate := make(chan struct{})
	dialer := &agentRecordingDialer{gate: gate}
	sup := f.supervisor(dialer)
	ctx := context.Background()

	primary := &models.Agent{ID: uuid.NewString(), Name: "primary", IsActive: true, MaxConcurrentCalls: 1}
	backup := &models.Agent{ID: uuid.NewString(), Name: "backup", IsActive: true, MaxConcurrentCalls: 5}
	for _, a := range []*models.Agent{primary, backup} {
		if err := f.agents.Create(ctx, a); err != nil {
			t.Fatalf("creating agent: %v", err)
		}
	}

	c := f.createCampaign(t, func(c *models.Campaign) { c.MaxConcurrent = 3 })
	if err := f.ca.Assign(ctx, &models.CampaignAgent{CampaignID: c.ID, AgentID: primary.ID, IsPrimary: true}); err != nil {
		t.Fatalf("Assign primary: %v", err)
	}
	if err := f.ca.Assign(ctx, &models.CampaignAgent{CampaignID: c.ID, AgentID: backup.ID}); err != nil {
		t.Fatalf("Assign backup: %v", err)
	}
	f.addLeads(t, c.ID, "+15550000001", "+15550000002", "+15550000003")

	if err := sup.Start(ctx, f.tenant.ID, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "three calls in flight", func() bool {
		stats, ok := sup.Status(c.ID)
		return ok && stats.InFlight == 3
	})
	close(gate)

	waitFor(t, "campaign completion", func() bool {
		got, err := f.campaigns.GetByID(ctx, f.tenant.ID, c.ID)
		return err == nil && got.Status == models.CampaignCompleted
	})

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	if dialer.byName["primary"] != 1 {
		t.Errorf("primary dispatches = %d, want 1", dialer.byName["primary"])
	}
	if dialer.byName["backup"] != 2 {
		t.Errorf("backup dispatches = %d, want 2", dialer.byName["backup"])
	}
}

func TestSupervisorShutdownAndBootRecovery(t *testing.T) {
	f := newSupervisorFixture(t)
	gate := make(chan struct{})
	dialer := &agentRecordingDialer{gate: gate}
	sup := f.supervisor(dialer)
	ctx := context.Background()

	c := f.createCampaign(t, func(c *models.Campaign) { c.MaxConcurrent = 1 })
	f.addLeads(t, c.ID, "+15550000001", "+15550000002")

	if err := sup.Start(ctx, f.tenant.ID, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "call in flight", func() bool {
		stats, ok := sup.Status(c.ID)
		return ok && stats.InFlight == 1
	})
	waitFor(t, "lead marked calling", func() bool {
		counts, err := f.leads.CountByStatus(ctx, c.ID)
		return err == nil && counts[models.LeadCalling] == 1
	})

	// deadline expires with the call still blocked
	start := time.Now()
	sup.Shutdown(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Shutdown took %v, deadline not honored", elapsed)
	}

	counts, err := f.leads.CountByStatus(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[models.LeadCalling] != 1 {
		t.Fatalf("calling leads after shutdown = %d, want 1", counts[models.LeadCalling])
	}

	close(gate)
}

func TestSupervisorRecoverAtBoot(t *testing.T) {
	f := newSupervisorFixture(t)
	sup := f.supervisor(&fakeDialer{})
	ctx := context.Background()

	// state a crashed process leaves behind: campaign active, lead calling
	c := f.createCampaign(t, nil)
	f.addLeads(t, c.ID, "+15550000001")
	if err := f.campaigns.MarkStarted(ctx, c.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	pending, _ := f.leads.ListPending(ctx, c.ID)
	if err := f.leads.MarkCalling(ctx, pending[0].ID, 1); err != nil {
		t.Fatalf("MarkCalling: %v", err)
	}

	if err := sup.RecoverAtBoot(ctx); err != nil {
		t.Fatalf("RecoverAtBoot: %v", err)
	}

	counts, _ := f.leads.CountByStatus(ctx, c.ID)
	if counts[models.LeadCalling] != 0 || counts[models.LeadFailed] != 1 {
		t.Errorf("after recovery: %v", counts)
	}
	got, _ := f.campaigns.GetByID(ctx, f.tenant.ID, c.ID)
	if got.Status != models.CampaignPaused {
		t.Errorf("campaign status after recovery = %s, want paused", got.Status)
	}
}
