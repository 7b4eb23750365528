package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/campaign"
	"github.com/dialcast/dialcast/internal/database/models"
)

// campaignRequest is the JSON body for creating/updating a campaign.
type campaignRequest struct {
	Name           string `json:"name"`
	Strategy       string `json:"strategy"`
	MaxConcurrent  *int   `json:"maxConcurrent"`
	RetryFailed    *bool  `json:"retryFailed"`
	RetryAttempts  *int   `json:"retryAttempts"`
	CallDelayMs    *int   `json:"callDelayMs"`
	SIPTrunkID     string `json:"sipTrunkId"`
	CallerIDNumber string `json:"callerIdNumber"`
	AgentName      string `json:"agentName"`
}

// campaignResponse is the JSON response for a single campaign.
type campaignResponse struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenantId"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	Strategy        string  `json:"strategy"`
	MaxConcurrent   int     `json:"maxConcurrent"`
	RetryFailed     bool    `json:"retryFailed"`
	RetryAttempts   int     `json:"retryAttempts"`
	CallDelayMs     int     `json:"callDelayMs"`
	SIPTrunkID      string  `json:"sipTrunkId"`
	CallerIDNumber  string  `json:"callerIdNumber,omitempty"`
	AgentName       string  `json:"agentName,omitempty"`
	StartedAt       *string `json:"startedAt"`
	CompletedAt     *string `json:"completedAt"`
	TotalCalls      int     `json:"totalCalls"`
	SuccessfulCalls int     `json:"successfulCalls"`
	FailedCalls     int     `json:"failedCalls"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

func toCampaignResponse(c *models.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:              c.ID,
		TenantID:        c.TenantID,
		Name:            c.Name,
		Status:          string(c.Status),
		Strategy:        string(c.Strategy),
		MaxConcurrent:   c.MaxConcurrent,
		RetryFailed:     c.RetryFailed,
		RetryAttempts:   c.RetryAttempts,
		CallDelayMs:     c.CallDelayMs,
		SIPTrunkID:      c.SIPTrunkID,
		CallerIDNumber:  c.CallerIDNumber,
		AgentName:       c.AgentName,
		TotalCalls:      c.TotalCalls,
		SuccessfulCalls: c.SuccessfulCalls,
		FailedCalls:     c.FailedCalls,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       c.UpdatedAt.Format(time.RFC3339),
	}
	if c.StartedAt != nil {
		v := c.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if c.CompletedAt != nil {
		v := c.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}

// handleListCampaigns returns the tenant's campaigns with pagination.
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	pg, msg := parsePagination(r)
	if msg != "" {
		writeValidationError(w, msg)
		return
	}

	campaigns, err := s.campaigns.List(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeInternalError(w, err)
		return
	}

	all := make([]campaignResponse, len(campaigns))
	for i := range campaigns {
		all[i] = toCampaignResponse(&campaigns[i])
	}

	total := len(all)
	start := min(pg.Offset, total)
	end := min(start+pg.Limit, total)

	writePage(w, http.StatusOK, all[start:end], Pagination{
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleCreateCampaign creates a new draft campaign.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req campaignRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required")
		return
	}

	c := &models.Campaign{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Name:           req.Name,
		Status:         models.CampaignDraft,
		Strategy:       models.StrategyPrimaryFirst,
		MaxConcurrent:  1,
		SIPTrunkID:     s.cfg.OutboundTrunkID,
		CallerIDNumber: req.CallerIDNumber,
		AgentName:      req.AgentName,
	}
	if req.Strategy != "" {
		c.Strategy = models.SelectionStrategy(req.Strategy)
	}
	if req.SIPTrunkID != "" {
		c.SIPTrunkID = req.SIPTrunkID
	}
	if req.MaxConcurrent != nil {
		c.MaxConcurrent = *req.MaxConcurrent
	}
	if req.RetryFailed != nil {
		c.RetryFailed = *req.RetryFailed
	}
	if req.RetryAttempts != nil {
		c.RetryAttempts = *req.RetryAttempts
	}
	if req.CallDelayMs != nil {
		c.CallDelayMs = *req.CallDelayMs
	}

	if msg := validateCampaign(c); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if err := s.campaigns.Create(r.Context(), c); err != nil {
		writeInternalError(w, err)
		return
	}

	slog.Info("campaign created", "campaign_id", c.ID, "tenant_id", tenantID, "name", c.Name)
	writeJSON(w, http.StatusCreated, toCampaignResponse(c))
}

func validateCampaign(c *models.Campaign) string {
	if !models.ValidStrategy(c.Strategy) {
		return "strategy must be one of primary_first, round_robin, least_loaded, random"
	}
	if c.MaxConcurrent < 1 {
		return "maxConcurrent must be a positive integer"
	}
	if c.RetryAttempts < 0 {
		return "retryAttempts must be non-negative"
	}
	if c.CallDelayMs < 0 {
		return "callDelayMs must be non-negative"
	}
	return ""
}

// handleGetCampaign returns a single campaign scoped to the tenant.
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

// handleUpdateCampaign updates campaign configuration. Rejected while the
// campaign runs: the runtime reads its config once at start.
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if s.campaignRunning(c) {
		writePrecondition(w, "campaign is active; pause or stop it before updating")
		return
	}

	var req campaignRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if req.Name != "" {
		c.Name = req.Name
	}
	if req.Strategy != "" {
		c.Strategy = models.SelectionStrategy(req.Strategy)
	}
	if req.MaxConcurrent != nil {
		c.MaxConcurrent = *req.MaxConcurrent
	}
	if req.RetryFailed != nil {
		c.RetryFailed = *req.RetryFailed
	}
	if req.RetryAttempts != nil {
		c.RetryAttempts = *req.RetryAttempts
	}
	if req.CallDelayMs != nil {
		c.CallDelayMs = *req.CallDelayMs
	}
	if req.SIPTrunkID != "" {
		c.SIPTrunkID = req.SIPTrunkID
	}
	if req.CallerIDNumber != "" {
		c.CallerIDNumber = req.CallerIDNumber
	}
	if req.AgentName != "" {
		c.AgentName = req.AgentName
	}

	if msg := validateCampaign(c); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if err := s.campaigns.Update(r.Context(), c); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

// handleDeleteCampaign removes a campaign and its dependents.
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if s.campaignRunning(c) {
		writePrecondition(w, "campaign is active; stop it before deleting")
		return
	}

	if err := s.campaigns.Delete(r.Context(), c.TenantID, c.ID); err != nil {
		writeInternalError(w, err)
		return
	}
	slog.Info("campaign deleted", "campaign_id", c.ID, "tenant_id", c.TenantID)
	w.WriteHeader(http.StatusNoContent)
}

// handleStartCampaign launches a campaign run.
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	campaignID := chi.URLParam(r, "campaignId")

	err := s.supervisor.Start(r.Context(), tenantID, campaignID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(models.CampaignActive)})
	case errors.Is(err, campaign.ErrCampaignNotFound):
		writeNotFound(w)
	case errors.Is(err, campaign.ErrCampaignActive),
		errors.Is(err, campaign.ErrCampaignTerminal),
		errors.Is(err, campaign.ErrNoTrunk),
		errors.Is(err, campaign.ErrNoPendingLeads):
		writePrecondition(w, err.Error())
	default:
		writeInternalError(w, err)
	}
}

// handlePauseCampaign pauses dispatch on a running campaign.
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.controlCampaign(w, r, models.CampaignPaused, s.supervisor.Pause)
}

// handleResumeCampaign resumes a paused campaign.
func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.controlCampaign(w, r, models.CampaignActive, s.supervisor.Resume)
}

// handleStopCampaign stops a running campaign. In-flight calls finish.
func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	s.controlCampaign(w, r, models.CampaignStopped, s.supervisor.Stop)
}

// controlCampaign checks tenant ownership then applies a supervisor action.
func (s *Server) controlCampaign(w http.ResponseWriter, r *http.Request, result models.CampaignStatus, action func(string) error) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	err := action(c.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
	case errors.Is(err, campaign.ErrNotRunning), errors.Is(err, campaign.ErrNotActive):
		writePrecondition(w, "campaign is not running")
	default:
		writeInternalError(w, err)
	}
}

// campaignStatsResponse aggregates store counters with an optional realtime
// block from the running runtime.
type campaignStatsResponse struct {
	CampaignID      string           `json:"campaignId"`
	Status          string           `json:"status"`
	TotalCalls      int              `json:"totalCalls"`
	SuccessfulCalls int              `json:"successfulCalls"`
	FailedCalls     int              `json:"failedCalls"`
	Leads           map[string]int64 `json:"leads"`
	Realtime        *campaign.Stats  `json:"realtime,omitempty"`
}

// handleCampaignStats returns stored aggregates plus live runtime stats when
// the campaign is running.
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	counts, err := s.leads.CountByStatus(r.Context(), c.ID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := campaignStatsResponse{
		CampaignID:      c.ID,
		Status:          string(c.Status),
		TotalCalls:      c.TotalCalls,
		SuccessfulCalls: c.SuccessfulCalls,
		FailedCalls:     c.FailedCalls,
		Leads: map[string]int64{
			"pending":   counts[models.LeadPending],
			"calling":   counts[models.LeadCalling],
			"completed": counts[models.LeadCompleted],
			"failed":    counts[models.LeadFailed],
		},
	}
	if stats, running := s.supervisor.Status(c.ID); running {
		resp.Realtime = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// callLogResponse is the JSON response for a call log row.
type callLogResponse struct {
	ID          string  `json:"id"`
	CampaignID  string  `json:"campaignId"`
	LeadID      *string `json:"leadId"`
	PhoneNumber string  `json:"phoneNumber"`
	Status      string  `json:"status"`
	CallSID     string  `json:"callSid,omitempty"`
	RoomName    string  `json:"roomName,omitempty"`
	DispatchID  string  `json:"dispatchId,omitempty"`
	Duration    *int    `json:"duration"`
	Error       string  `json:"error,omitempty"`
	Metadata    string  `json:"metadata,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

// handleListCampaignCalls returns a page of the campaign's call log.
func (s *Server) handleListCampaignCalls(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	pg, msg := parsePagination(r)
	if msg != "" {
		writeValidationError(w, msg)
		return
	}

	logs, total, err := s.callLogs.ListByCampaign(r.Context(), c.TenantID, c.ID, pg.Limit, pg.Offset)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	items := make([]callLogResponse, len(logs))
	for i, l := range logs {
		items[i] = callLogResponse{
			ID:          l.ID,
			CampaignID:  l.CampaignID,
			LeadID:      l.LeadID,
			PhoneNumber: l.PhoneNumber,
			Status:      string(l.Status),
			CallSID:     l.CallSID,
			RoomName:    l.RoomName,
			DispatchID:  l.DispatchID,
			Duration:    l.Duration,
			Error:       l.Error,
			Metadata:    l.Metadata,
			CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		}
	}

	writePage(w, http.StatusOK, items, Pagination{Total: total, Limit: pg.Limit, Offset: pg.Offset})
}

// loadCampaign resolves the route's campaign under the route's tenant,
// answering 404 for both missing and foreign campaigns.
func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) (*models.Campaign, bool) {
	c, err := s.campaigns.GetByID(r.Context(), chi.URLParam(r, "tenantId"), chi.URLParam(r, "campaignId"))
	if err != nil {
		writeInternalError(w, err)
		return nil, false
	}
	if c == nil {
		writeNotFound(w)
		return nil, false
	}
	return c, true
}

// campaignRunning reports whether the campaign has a live runtime or is
// marked active in the store.
func (s *Server) campaignRunning(c *models.Campaign) bool {
	if c.Status == models.CampaignActive {
		return true
	}
	_, running := s.supervisor.Status(c.ID)
	return running
}
