package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// tenantRequest is the JSON body for creating/updating a tenant.
type tenantRequest struct {
	Domain   string `json:"domain"`
	IsActive *bool  `json:"isActive"`
}

// tenantResponse is the JSON response for a single tenant.
type tenantResponse struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toTenantResponse(t *models.Tenant) tenantResponse {
	return tenantResponse{
		ID:        t.ID,
		Domain:    t.Domain,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListTenants returns all tenants. Admin only.
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	tenants, err := s.tenants.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}

	items := make([]tenantResponse, len(tenants))
	for i := range tenants {
		items[i] = toTenantResponse(&tenants[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateTenant provisions a new tenant. Admin only.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req tenantRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Domain == "" {
		writeValidationError(w, "domain is required")
		return
	}

	tenant := &models.Tenant{
		ID:       uuid.NewString(),
		Domain:   req.Domain,
		IsActive: true,
	}
	if req.IsActive != nil {
		tenant.IsActive = *req.IsActive
	}

	if err := s.tenants.Create(r.Context(), tenant); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "a tenant with this domain already exists")
			return
		}
		writeInternalError(w, err)
		return
	}

	slog.Info("tenant created", "tenant_id", tenant.ID, "domain", tenant.Domain)
	writeJSON(w, http.StatusCreated, toTenantResponse(tenant))
}

// handleGetTenant returns the tenant named in the path.
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenants.GetByID(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tenant == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tenant))
}

// handleUpdateTenant updates domain or active flag.
func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenants.GetByID(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tenant == nil {
		writeNotFound(w)
		return
	}

	var req tenantRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if req.Domain != "" {
		tenant.Domain = req.Domain
	}
	if req.IsActive != nil {
		tenant.IsActive = *req.IsActive
	}

	if err := s.tenants.Update(r.Context(), tenant); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "a tenant with this domain already exists")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tenant))
}
