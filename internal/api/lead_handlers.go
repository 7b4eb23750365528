package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/phone"
)

// leadInput is one lead in a bulk ingest request.
type leadInput struct {
	PhoneNumber string          `json:"phoneNumber"`
	Name        string          `json:"name"`
	Priority    int             `json:"priority"`
	Metadata    json.RawMessage `json:"metadata"`
}

// leadResponse is the JSON response for a single lead.
type leadResponse struct {
	ID          string  `json:"id"`
	CampaignID  string  `json:"campaignId"`
	PhoneNumber string  `json:"phoneNumber"`
	Name        string  `json:"name,omitempty"`
	Priority    int     `json:"priority"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	Metadata    string  `json:"metadata,omitempty"`
	LastCallAt  *string `json:"lastCallAt"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toLeadResponse(l *models.Lead) leadResponse {
	resp := leadResponse{
		ID:          l.ID,
		CampaignID:  l.CampaignID,
		PhoneNumber: l.PhoneNumber,
		Name:        l.Name,
		Priority:    l.Priority,
		Status:      string(l.Status),
		Attempts:    l.Attempts,
		Metadata:    l.Metadata,
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   l.UpdatedAt.Format(time.RFC3339),
	}
	if l.LastCallAt != nil {
		v := l.LastCallAt.Format(time.RFC3339)
		resp.LastCallAt = &v
	}
	return resp
}

// handleBulkCreateLeads ingests a JSON batch of leads into a campaign.
// Duplicate (campaign, phone) rows are skipped; the response reports how many
// were actually created.
func (s *Server) handleBulkCreateLeads(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	var req struct {
		Leads []leadInput `json:"leads"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if len(req.Leads) == 0 {
		writeValidationError(w, "leads is required and must not be empty")
		return
	}

	leads := make([]*models.Lead, 0, len(req.Leads))
	for i, in := range req.Leads {
		if in.PhoneNumber == "" {
			writeValidationError(w, fmt.Sprintf("leads[%d].phoneNumber is required", i))
			return
		}
		normalized, err := phone.Normalize(in.PhoneNumber, s.cfg.DefaultCountryCode)
		if err != nil {
			writeValidationError(w, fmt.Sprintf("leads[%d].phoneNumber: %v", i, err))
			return
		}
		leads = append(leads, &models.Lead{
			ID:          uuid.NewString(),
			TenantID:    c.TenantID,
			CampaignID:  c.ID,
			PhoneNumber: normalized,
			Name:        in.Name,
			Priority:    in.Priority,
			Status:      models.LeadPending,
			Metadata:    string(in.Metadata),
		})
	}

	created, err := s.leads.BulkCreate(r.Context(), leads)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	s.feedRuntime(r, c.TenantID, c.ID, leads)

	slog.Info("leads ingested", "campaign_id", c.ID, "created", created, "total", len(leads))
	writeJSON(w, http.StatusCreated, map[string]int{
		"created": created,
		"total":   len(leads),
	})
}

// handleUploadLeadsCSV ingests a CSV of leads. Accepts either a multipart
// form with a "file" field or a raw CSV body. Rows with unparseable phone
// numbers are skipped and counted rather than failing the batch.
func (s *Server) handleUploadLeadsCSV(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	var src io.Reader
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxCSVBodyBytes); err != nil {
			writeValidationError(w, "invalid multipart form")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeValidationError(w, "multipart form must carry a \"file\" field")
			return
		}
		defer file.Close()
		src = file
	} else {
		src = io.LimitReader(r.Body, maxCSVBodyBytes)
	}

	leads, skipped, msg := s.parseLeadCSV(src, c)
	if msg != "" {
		writeValidationError(w, msg)
		return
	}
	if len(leads) == 0 && skipped == 0 {
		writeValidationError(w, "csv contains no data rows")
		return
	}

	created := 0
	if len(leads) > 0 {
		var err error
		created, err = s.leads.BulkCreate(r.Context(), leads)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		s.feedRuntime(r, c.TenantID, c.ID, leads)
	}

	slog.Info("lead csv ingested", "campaign_id", c.ID, "created", created, "skipped", skipped)
	writeJSON(w, http.StatusCreated, map[string]int{
		"created": created,
		"total":   len(leads),
		"skipped": skipped,
	})
}

// parseLeadCSV reads a header-prefixed CSV into lead rows. The phone column
// may be named phoneNumber, phone, or number.
func (s *Server) parseLeadCSV(src io.Reader, c *models.Campaign) ([]*models.Lead, int, string) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, "csv is empty or malformed"
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	phoneCol, ok := cols["phonenumber"]
	if !ok {
		if phoneCol, ok = cols["phone"]; !ok {
			if phoneCol, ok = cols["number"]; !ok {
				return nil, 0, "csv must have a phoneNumber, phone, or number column"
			}
		}
	}
	nameCol, hasName := cols["name"]
	prioCol, hasPrio := cols["priority"]
	metaCol, hasMeta := cols["metadata"]

	field := func(row []string, idx int) string {
		if idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	var leads []*models.Lead
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		raw := field(row, phoneCol)
		if raw == "" {
			skipped++
			continue
		}
		normalized, err := phone.Normalize(raw, s.cfg.DefaultCountryCode)
		if err != nil {
			skipped++
			continue
		}

		lead := &models.Lead{
			ID:          uuid.NewString(),
			TenantID:    c.TenantID,
			CampaignID:  c.ID,
			PhoneNumber: normalized,
			Status:      models.LeadPending,
		}
		if hasName {
			lead.Name = field(row, nameCol)
		}
		if hasPrio {
			if v, err := strconv.Atoi(field(row, prioCol)); err == nil {
				lead.Priority = v
			}
		}
		if hasMeta {
			lead.Metadata = field(row, metaCol)
		}
		leads = append(leads, lead)
	}
	return leads, skipped, ""
}

// feedRuntime hands freshly created leads to a running campaign. Duplicates
// skipped by BulkCreate kept their original row id, so a lookup by the id we
// generated tells created rows apart from skipped ones.
func (s *Server) feedRuntime(r *http.Request, tenantID, campaignID string, leads []*models.Lead) {
	if _, running := s.supervisor.Status(campaignID); !running {
		return
	}
	fresh := make([]models.Lead, 0, len(leads))
	for _, l := range leads {
		got, err := s.leads.GetByID(r.Context(), tenantID, l.ID)
		if err != nil || got == nil {
			continue
		}
		fresh = append(fresh, *got)
	}
	if len(fresh) > 0 && !s.supervisor.AddLeads(campaignID, fresh) {
		// the run ended between the status check and the handoff; the rows
		// stay pending for the next start
		slog.Debug("campaign finished before lead handoff", "campaign_id", campaignID, "count", len(fresh))
	}
}

// handleListLeads returns a page of the campaign's leads, optionally filtered
// by status.
func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	pg, msg := parsePagination(r)
	if msg != "" {
		writeValidationError(w, msg)
		return
	}

	filter := database.LeadListFilter{Limit: pg.Limit, Offset: pg.Offset}
	if status := r.URL.Query().Get("status"); status != "" {
		switch models.LeadStatus(status) {
		case models.LeadPending, models.LeadCalling, models.LeadCompleted, models.LeadFailed:
			filter.Status = models.LeadStatus(status)
		default:
			writeValidationError(w, "status must be one of pending, calling, completed, failed")
			return
		}
	}

	leads, total, err := s.leads.ListByCampaign(r.Context(), c.TenantID, c.ID, filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	items := make([]leadResponse, len(leads))
	for i := range leads {
		items[i] = toLeadResponse(&leads[i])
	}
	writePage(w, http.StatusOK, items, Pagination{Total: total, Limit: pg.Limit, Offset: pg.Offset})
}

// handleGetLead returns a single lead.
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, ok := s.loadLead(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLeadResponse(lead))
}

// handleDeleteLead removes a lead unless it is currently being called.
func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	lead, ok := s.loadLead(w, r)
	if !ok {
		return
	}
	if lead.Status == models.LeadCalling {
		writePrecondition(w, "lead has a call in flight")
		return
	}

	if err := s.leads.Delete(r.Context(), lead.TenantID, lead.ID); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadLead resolves the route's lead under the route's tenant and campaign.
func (s *Server) loadLead(w http.ResponseWriter, r *http.Request) (*models.Lead, bool) {
	lead, err := s.leads.GetByID(r.Context(), chi.URLParam(r, "tenantId"), chi.URLParam(r, "leadId"))
	if err != nil {
		writeInternalError(w, err)
		return nil, false
	}
	if lead == nil || lead.CampaignID != chi.URLParam(r, "campaignId") {
		writeNotFound(w)
		return nil, false
	}
	return lead, true
}

// handleTenantLeadStats aggregates lead counts across the tenant.
func (s *Server) handleTenantLeadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.leads.StatsByTenant(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total":     stats.Total,
		"pending":   stats.Pending,
		"calling":   stats.Calling,
		"completed": stats.Completed,
		"failed":    stats.Failed,
	})
}
