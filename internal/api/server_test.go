package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/agents"
	"github.com/dialcast/dialcast/internal/campaign"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/inbound"
	"github.com/dialcast/dialcast/internal/livekit"
)

// fakeDialer stands in for the telephony fabric: every call connects.
type fakeDialer struct {
	mu     sync.Mutex
	placed int
}

func (d *fakeDialer) DispatchAgent(ctx context.Context, roomName, agentName, metadata string) (string, error) {
	return "AD_test", nil
}

func (d *fakeDialer) CreateSIPParticipant(ctx context.Context, trunkID, e164, roomName, identity, metadata string) (*livekit.Participant, error) {
	d.mu.Lock()
	d.placed++
	d.mu.Unlock()
	return &livekit.Participant{ParticipantID: "PA_test", SIPCallID: "SCL_test"}, nil
}

// fakeTelephony answers provisioning calls without a fabric.
type fakeTelephony struct {
	err error
}

func (f *fakeTelephony) CreateInboundTrunk(ctx context.Context, name string, numbers []string) (string, error) {
	return "ST_inbound", f.err
}

func (f *fakeTelephony) UpdateInboundTrunkNumbers(ctx context.Context, trunkID, name string, numbers []string) error {
	return f.err
}

func (f *fakeTelephony) CreateOutboundTrunk(ctx context.Context, name, address string, numbers []string, username, password string) (string, error) {
	return "ST_outbound", f.err
}

func (f *fakeTelephony) DeleteTrunk(ctx context.Context, trunkID string) error {
	return f.err
}

func (f *fakeTelephony) CreateDispatchRule(ctx context.Context, name, roomPrefix string, trunkIDs []string, metadata string) (string, error) {
	return "SDR_rule", f.err
}

func (f *fakeTelephony) DeleteDispatchRule(ctx context.Context, ruleID string) error {
	return f.err
}

type apiFixture struct {
	t         *testing.T
	srv       *Server
	tenants   database.TenantRepository
	campaigns database.CampaignRepository
	leads     database.LeadRepository
	callLogs  database.CallLogRepository
	telephony *fakeTelephony
	dialer    *fakeDialer
}

// newAPIFixture builds a full server over a temp sqlite store with auth
// disabled and the fabric faked out.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := database.Open(t.TempDir(), "")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Port:                 8080,
		RateLimitWindowMS:    60000,
		RateLimitMaxRequests: 100000,
		DefaultCountryCode:   "+1",
		DefaultAgentName:     "fallback-agent",
		ShutdownTimeout:      time.Second,
	}

	tenants := database.NewTenantRepository(db)
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agentRepo := database.NewAgentRepository(db)
	campaignAgents := database.NewCampaignAgentRepository(db)
	phoneNumbers := database.NewPhoneNumberRepository(db)
	callLogs := database.NewCallLogRepository(db)

	tracker := agents.NewTracker()
	selector := agents.NewSelector(agentRepo, campaignAgents, tracker, cfg.DefaultAgentName)
	dialer := &fakeDialer{}

	supervisor := campaign.NewSupervisor(
		campaigns, leads, callLogs,
		dialer, selector, tracker,
		campaign.RuntimeOptions{
			DefaultCountryCode: cfg.DefaultCountryCode,
			PollInterval:       5 * time.Millisecond,
		},
	)

	router := inbound.NewRouter(phoneNumbers, agentRepo, leads, callLogs, selector, cfg.DefaultCountryCode, nil)
	telephony := &fakeTelephony{}

	srv := NewServer(Deps{
		Config:         cfg,
		Tenants:        tenants,
		Campaigns:      campaigns,
		Leads:          leads,
		Agents:         agentRepo,
		CampaignAgents: campaignAgents,
		PhoneNumbers:   phoneNumbers,
		CallLogs:       callLogs,
		Supervisor:     supervisor,
		Inbound:        router,
		Telephony:      telephony,
	})
	t.Cleanup(srv.Close)

	return &apiFixture{
		t:         t,
		srv:       srv,
		tenants:   tenants,
		campaigns: campaigns,
		leads:     leads,
		callLogs:  callLogs,
		telephony: telephony,
		dialer:    dialer,
	}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshaling request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	return rr
}

// decodeData unmarshals the envelope's data field into dst.
func (f *apiFixture) decodeData(rr *httptest.ResponseRecorder, dst any) envelope {
	f.t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		f.t.Fatalf("decoding envelope: %v (body %s)", err, rr.Body.String())
	}
	if dst != nil {
		raw, err := json.Marshal(env.Data)
		if err != nil {
			f.t.Fatalf("re-marshaling data: %v", err)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			f.t.Fatalf("decoding data: %v", err)
		}
	}
	return env
}

func (f *apiFixture) seedTenant(id, domain string) {
	f.t.Helper()
	err := f.tenants.Create(context.Background(), &models.Tenant{ID: id, Domain: domain, IsActive: true})
	if err != nil {
		f.t.Fatalf("seeding tenant %s: %v", id, err)
	}
}

func (f *apiFixture) seedCampaign(tenantID, id, trunkID string) {
	f.t.Helper()
	err := f.campaigns.Create(context.Background(), &models.Campaign{
		ID:            id,
		TenantID:      tenantID,
		Name:          "campaign " + id,
		Status:        models.CampaignDraft,
		Strategy:      models.StrategyPrimaryFirst,
		MaxConcurrent: 1,
		SIPTrunkID:    trunkID,
	})
	if err != nil {
		f.t.Fatalf("seeding campaign %s: %v", id, err)
	}
}

func TestHealthRoute(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var data map[string]string
	f.decodeData(rr, &data)
	if data["status"] != "ok" {
		t.Errorf("expected status ok, got %v", data)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	f.seedTenant("ta", "a.example.com")
	f.seedTenant("tb", "b.example.com")
	f.seedCampaign("ta", "ca", "ST_1")
	f.seedCampaign("tb", "cb", "ST_1")

	for _, seed := range []struct{ tenant, campaign, phone string }{
		{"ta", "ca", "+15550000001"},
		{"tb", "cb", "+15550000002"},
	} {
		if _, err := f.leads.BulkCreate(ctx, []*models.Lead{{
			TenantID: seed.tenant, CampaignID: seed.campaign, PhoneNumber: seed.phone,
		}}); err != nil {
			t.Fatalf("seeding lead: %v", err)
		}
		if err := f.callLogs.Create(ctx, &models.CallLog{
			ID: "lg-" + seed.campaign, TenantID: seed.tenant, CampaignID: seed.campaign,
			PhoneNumber: seed.phone, Status: models.CallCompleted,
		}); err != nil {
			t.Fatalf("seeding call log: %v", err)
		}
	}

	// List is scoped to the route tenant.
	rr := f.do(http.MethodGet, "/api/v1/tenants/ta/campaigns", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var items []campaignResponse
	env := f.decodeData(rr, &items)
	if len(items) != 1 || items[0].ID != "ca" {
		t.Fatalf("expected only ca, got %+v", items)
	}
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("expected pagination total 1, got %+v", env.Pagination)
	}

	// A foreign campaign id answers 404, not 403.
	rr = f.do(http.MethodGet, "/api/v1/tenants/ta/campaigns/cb", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign campaign, got %d", rr.Code)
	}

	// Lead stats count only the route tenant's rows.
	for _, tenant := range []string{"ta", "tb"} {
		rr = f.do(http.MethodGet, "/api/v1/tenants/"+tenant+"/leads/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var stats map[string]int64
		f.decodeData(rr, &stats)
		if stats["total"] != 1 {
			t.Errorf("tenant %s: expected total 1, got %d", tenant, stats["total"])
		}
	}
}

func TestCampaignCRUD(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")

	rr := f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns", map[string]any{
		"name":       "spring outreach",
		"sipTrunkId": "ST_1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created campaignResponse
	f.decodeData(rr, &created)
	if created.Status != string(models.CampaignDraft) {
		t.Errorf("expected draft status, got %s", created.Status)
	}
	if created.Strategy != string(models.StrategyPrimaryFirst) {
		t.Errorf("expected primary_first default, got %s", created.Strategy)
	}
	if created.MaxConcurrent != 1 {
		t.Errorf("expected maxConcurrent default 1, got %d", created.MaxConcurrent)
	}

	// Unknown strategy is rejected.
	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns", map[string]any{
		"name": "bad", "strategy": "fastest",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad strategy, got %d", rr.Code)
	}

	// Update while not active works.
	path := "/api/v1/tenants/ta/campaigns/" + created.ID
	rr = f.do(http.MethodPut, path, map[string]any{"maxConcurrent": 5})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated campaignResponse
	f.decodeData(rr, &updated)
	if updated.MaxConcurrent != 5 {
		t.Errorf("expected maxConcurrent 5, got %d", updated.MaxConcurrent)
	}

	// Update and delete are rejected while the campaign is marked active.
	if err := f.campaigns.SetStatus(context.Background(), created.ID, models.CampaignActive); err != nil {
		t.Fatalf("setting status: %v", err)
	}
	rr = f.do(http.MethodPut, path, map[string]any{"name": "renamed"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 updating active campaign, got %d", rr.Code)
	}
	rr = f.do(http.MethodDelete, path, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting active campaign, got %d", rr.Code)
	}

	if err := f.campaigns.SetStatus(context.Background(), created.ID, models.CampaignPaused); err != nil {
		t.Fatalf("setting status: %v", err)
	}
	rr = f.do(http.MethodDelete, path, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = f.do(http.MethodGet, path, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestCampaignControlErrors(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")
	f.seedCampaign("ta", "no-trunk", "")
	f.seedCampaign("ta", "no-leads", "ST_1")

	rr := f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/missing/start", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown campaign, got %d", rr.Code)
	}

	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/no-trunk/start", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without trunk, got %d", rr.Code)
	}

	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/no-leads/start", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without pending leads, got %d", rr.Code)
	}

	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/no-leads/pause", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 pausing idle campaign, got %d", rr.Code)
	}
}

func TestLeadBulkIngest(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")
	f.seedCampaign("ta", "c1", "ST_1")

	body := map[string]any{"leads": []map[string]any{
		{"phoneNumber": "555-000-0001", "name": "Alice"},
		{"phoneNumber": "+15550000002", "priority": 2},
	}}

	rr := f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/c1/leads/bulk", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var counts map[string]int
	f.decodeData(rr, &counts)
	if counts["created"] != 2 || counts["total"] != 2 {
		t.Fatalf("expected created=2 total=2, got %v", counts)
	}

	// Re-ingesting the same numbers creates nothing.
	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/c1/leads/bulk", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	f.decodeData(rr, &counts)
	if counts["created"] != 0 || counts["total"] != 2 {
		t.Fatalf("expected created=0 total=2 on duplicate ingest, got %v", counts)
	}

	// Normalization failures reject the whole batch.
	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/c1/leads/bulk", map[string]any{
		"leads": []map[string]any{{"phoneNumber": "12"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid number, got %d", rr.Code)
	}

	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns/c1/leads/bulk", map[string]any{"leads": []any{}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rr.Code)
	}

	// The stored numbers are normalized E.164.
	rr = f.do(http.MethodGet, "/api/v1/tenants/ta/campaigns/c1/leads", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var items []leadResponse
	env := f.decodeData(rr, &items)
	if env.Pagination == nil || env.Pagination.Total != 2 {
		t.Fatalf("expected 2 leads, got %+v", env.Pagination)
	}
	if items[0].PhoneNumber != "+15550000001" && items[1].PhoneNumber != "+15550000001" {
		t.Errorf("expected normalized +15550000001 in %+v", items)
	}
}

func TestLeadCSVUpload(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")
	f.seedCampaign("ta", "c1", "ST_1")

	csvBody := strings.Join([]string{
		"phone,name,priority",
		"5550000001,Alice,2",
		"+15550000002,Bob,1",
		"bogus,Mallory,9",
		"",
	}, "\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/ta/campaigns/c1/leads/upload", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var counts map[string]int
	f.decodeData(rr, &counts)
	if counts["created"] != 2 || counts["skipped"] != 1 {
		t.Fatalf("expected created=2 skipped=1, got %v", counts)
	}
}

func TestLeadDelete(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")
	f.seedCampaign("ta", "c1", "ST_1")
	ctx := context.Background()

	lead := &models.Lead{TenantID: "ta", CampaignID: "c1", PhoneNumber: "+15550000001"}
	if _, err := f.leads.BulkCreate(ctx, []*models.Lead{lead}); err != nil {
		t.Fatalf("seeding lead: %v", err)
	}
	path := "/api/v1/tenants/ta/campaigns/c1/leads/" + lead.ID

	// Deleting a lead with a call in flight is rejected.
	if err := f.leads.MarkCalling(ctx, lead.ID, 1); err != nil {
		t.Fatalf("marking calling: %v", err)
	}
	rr := f.do(http.MethodDelete, path, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting calling lead, got %d", rr.Code)
	}

	if err := f.leads.SetStatus(ctx, lead.ID, models.LeadPending); err != nil {
		t.Fatalf("resetting status: %v", err)
	}
	rr = f.do(http.MethodDelete, path, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	// A lead id under the wrong campaign route answers 404.
	f.seedCampaign("ta", "c2", "ST_1")
	other := &models.Lead{TenantID: "ta", CampaignID: "c2", PhoneNumber: "+15550000009"}
	if _, err := f.leads.BulkCreate(ctx, []*models.Lead{other}); err != nil {
		t.Fatalf("seeding lead: %v", err)
	}
	rr = f.do(http.MethodGet, "/api/v1/tenants/ta/campaigns/c1/leads/"+other.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for lead under wrong campaign, got %d", rr.Code)
	}
}

func TestAgentAssignments(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")
	f.seedCampaign("ta", "c1", "ST_1")

	rr := f.do(http.MethodPost, "/api/v1/agents", map[string]any{
		"name":               "closer",
		"maxConcurrentCalls": 3,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var agent agentResponse
	f.decodeData(rr, &agent)
	if !agent.IsActive {
		t.Error("expected agent active by default")
	}

	assignPath := "/api/v1/tenants/ta/campaigns/c1/agents"
	rr = f.do(http.MethodPost, assignPath, map[string]any{"agentId": agent.ID, "isPrimary": true})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Assigning the same agent twice conflicts.
	rr = f.do(http.MethodPost, assignPath, map[string]any{"agentId": agent.ID})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate assignment, got %d", rr.Code)
	}

	// An unknown agent id is a miss.
	rr = f.do(http.MethodPost, assignPath, map[string]any{"agentId": "ghost"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", rr.Code)
	}

	rr = f.do(http.MethodGet, assignPath, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var assignments []assignmentResponse
	f.decodeData(rr, &assignments)
	if len(assignments) != 1 || assignments[0].AgentID != agent.ID || !assignments[0].IsPrimary {
		t.Fatalf("unexpected assignments: %+v", assignments)
	}

	rr = f.do(http.MethodDelete, assignPath+"/"+agent.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = f.do(http.MethodGet, assignPath, nil)
	f.decodeData(rr, &assignments)
	if len(assignments) != 0 {
		t.Fatalf("expected no assignments after unassign, got %+v", assignments)
	}
}

func TestPhoneNumberCRUD(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")
	f.seedTenant("tb", "b.example.com")
	f.seedCampaign("ta", "c1", "ST_1")

	rr := f.do(http.MethodPost, "/api/v1/tenants/ta/phone-numbers", map[string]any{
		"number":     "555-000-1111",
		"campaignId": "c1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var num phoneNumberResponse
	f.decodeData(rr, &num)
	if num.Number != "+15550001111" {
		t.Errorf("expected normalized number, got %s", num.Number)
	}
	if num.CampaignID == nil || *num.CampaignID != "c1" {
		t.Errorf("expected campaign link, got %+v", num.CampaignID)
	}

	// The number is the global routing key; another tenant cannot claim it.
	rr = f.do(http.MethodPost, "/api/v1/tenants/tb/phone-numbers", map[string]any{
		"number": "+15550001111",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate number, got %d", rr.Code)
	}

	// Linking a campaign from another tenant is a validation error.
	rr = f.do(http.MethodPost, "/api/v1/tenants/tb/phone-numbers", map[string]any{
		"number":     "+15550002222",
		"campaignId": "c1",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign campaign link, got %d", rr.Code)
	}

	rr = f.do(http.MethodPut, "/api/v1/tenants/ta/phone-numbers/"+num.ID, map[string]any{
		"campaignId": "",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	f.decodeData(rr, &num)
	if num.CampaignID != nil {
		t.Errorf("expected campaign link cleared, got %v", *num.CampaignID)
	}

	rr = f.do(http.MethodDelete, "/api/v1/tenants/ta/phone-numbers/"+num.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestTrunkProvisioningPassthrough(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")

	rr := f.do(http.MethodPost, "/api/v1/tenants/ta/trunks/inbound", map[string]any{
		"name":    "main",
		"numbers": []string{"+15550001111"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var data map[string]string
	f.decodeData(rr, &data)
	if data["trunkId"] != "ST_inbound" {
		t.Errorf("expected trunk id from fabric, got %v", data)
	}

	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/dispatch-rules", map[string]any{
		"name": "inbound routing",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Fabric error kinds map onto HTTP statuses.
	f.telephony.err = &livekit.Error{Kind: livekit.KindNotFound, Op: "delete_trunk", Message: "no such trunk"}
	rr = f.do(http.MethodDelete, "/api/v1/tenants/ta/trunks/ST_gone", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing trunk, got %d", rr.Code)
	}

	f.telephony.err = &livekit.Error{Kind: livekit.KindTransient, Op: "create_inbound_trunk", Message: "unavailable"}
	rr = f.do(http.MethodPost, "/api/v1/tenants/ta/trunks/inbound", map[string]any{
		"name": "main", "numbers": []string{"+15550001111"},
	})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for transient fabric failure, got %d", rr.Code)
	}
}

func TestSIPInboundWebhookAlwaysAnswers(t *testing.T) {
	f := newAPIFixture(t)

	// Unprovisioned number resolves to the default agent.
	rr := f.do(http.MethodPost, "/api/v1/webhooks/livekit/sip-inbound", inbound.Invite{
		CallID:     "SCL_1",
		FromNumber: "+15550009999",
		ToNumber:   "+15550001111",
		RoomName:   "inbound-1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp inbound.InviteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding invite response: %v", err)
	}
	if resp.AgentName != "fallback-agent" {
		t.Errorf("expected fallback agent, got %q", resp.AgentName)
	}

	// Even a malformed payload gets a dispatchable agent.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/livekit/sip-inbound", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for malformed payload, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding invite response: %v", err)
	}
	if resp.AgentName == "" {
		t.Error("expected a non-empty agent name for malformed payload")
	}
}

func TestLiveKitEventWebhookAcks(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/webhooks/livekit/events", map[string]any{
		"event": "participant_joined",
		"room":  map[string]string{"name": "inbound-1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	env := f.decodeData(rr, nil)
	if !env.Success {
		t.Error("expected success ack")
	}
}

func TestCampaignRunThroughAPI(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTenant("ta", "a.example.com")

	rr := f.do(http.MethodPost, "/api/v1/tenants/ta/campaigns", map[string]any{
		"name":          "launch",
		"sipTrunkId":    "ST_1",
		"maxConcurrent": 2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var c campaignResponse
	f.decodeData(rr, &c)
	base := "/api/v1/tenants/ta/campaigns/" + c.ID

	rr = f.do(http.MethodPost, base+"/leads/bulk", map[string]any{"leads": []map[string]any{
		{"phoneNumber": "+15550000001"},
		{"phoneNumber": "+15550000002"},
		{"phoneNumber": "+15550000003"},
	}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(http.MethodPost, base+"/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Starting again while running is a precondition failure.
	rr = f.do(http.MethodPost, base+"/start", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for double start, got %d", rr.Code)
	}

	var stats campaignStatsResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		rr = f.do(http.MethodGet, base+"/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		stats = campaignStatsResponse{}
		f.decodeData(rr, &stats)
		if stats.Status == string(models.CampaignCompleted) && stats.TotalCalls == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("campaign did not complete: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if stats.SuccessfulCalls != 3 || stats.FailedCalls != 0 {
		t.Errorf("expected 3 successful calls, got %+v", stats)
	}
	if stats.Leads["completed"] != 3 {
		t.Errorf("expected 3 completed leads, got %v", stats.Leads)
	}
	if stats.Realtime != nil {
		t.Error("expected no realtime block after completion")
	}

	f.dialer.mu.Lock()
	placed := f.dialer.placed
	f.dialer.mu.Unlock()
	if placed != 3 {
		t.Errorf("expected 3 placed calls, got %d", placed)
	}

	rr = f.do(http.MethodGet, base+"/calls", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var logs []callLogResponse
	env := f.decodeData(rr, &logs)
	if env.Pagination == nil || env.Pagination.Total != 3 {
		t.Fatalf("expected 3 call log rows, got %+v", env.Pagination)
	}
	for _, l := range logs {
		if l.Status != string(models.CallCompleted) {
			t.Errorf("expected completed log, got %s", l.Status)
		}
	}
}

func TestTenantCRUDThroughAPI(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/tenants", map[string]any{"domain": "c.example.com"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var tenant tenantResponse
	f.decodeData(rr, &tenant)
	if !tenant.IsActive {
		t.Error("expected tenant active by default")
	}

	rr = f.do(http.MethodPost, "/api/v1/tenants", map[string]any{"domain": "c.example.com"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate domain, got %d", rr.Code)
	}

	rr = f.do(http.MethodPut, fmt.Sprintf("/api/v1/tenants/%s", tenant.ID), map[string]any{"isActive": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	f.decodeData(rr, &tenant)
	if tenant.IsActive {
		t.Error("expected tenant deactivated")
	}
}
