package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/phone"
)

// phoneNumberRequest is the JSON body for creating/updating a phone number.
type phoneNumberRequest struct {
	Number         string  `json:"number"`
	Type           string  `json:"type"`
	Provider       string  `json:"provider"`
	ProviderSID    string  `json:"providerSid"`
	CampaignID     *string `json:"campaignId"`
	LiveKitTrunkID string  `json:"livekitTrunkId"`
	IsActive       *bool   `json:"isActive"`
}

// phoneNumberResponse is the JSON response for a single phone number.
type phoneNumberResponse struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenantId"`
	Number         string  `json:"number"`
	Type           string  `json:"type"`
	Provider       string  `json:"provider,omitempty"`
	ProviderSID    string  `json:"providerSid,omitempty"`
	CampaignID     *string `json:"campaignId"`
	LiveKitTrunkID string  `json:"livekitTrunkId,omitempty"`
	IsActive       bool    `json:"isActive"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

func toPhoneNumberResponse(n *models.PhoneNumber) phoneNumberResponse {
	return phoneNumberResponse{
		ID:             n.ID,
		TenantID:       n.TenantID,
		Number:         n.Number,
		Type:           string(n.Type),
		Provider:       n.Provider,
		ProviderSID:    n.ProviderSID,
		CampaignID:     n.CampaignID,
		LiveKitTrunkID: n.LiveKitTrunkID,
		IsActive:       n.IsActive,
		CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      n.UpdatedAt.Format(time.RFC3339),
	}
}

func validNumberType(t models.PhoneNumberType) bool {
	switch t {
	case models.NumberLocal, models.NumberMobile, models.NumberTollFree:
		return true
	}
	return false
}

// handleListPhoneNumbers returns the tenant's provisioned numbers.
func (s *Server) handleListPhoneNumbers(w http.ResponseWriter, r *http.Request) {
	numbers, err := s.phoneNumbers.List(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	items := make([]phoneNumberResponse, len(numbers))
	for i := range numbers {
		items[i] = toPhoneNumberResponse(&numbers[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreatePhoneNumber provisions a number record for the tenant. The
// number is the global inbound routing key, so it must be unique across all
// tenants.
func (s *Server) handleCreatePhoneNumber(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req phoneNumberRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Number == "" {
		writeValidationError(w, "number is required")
		return
	}
	normalized, err := phone.Normalize(req.Number, s.cfg.DefaultCountryCode)
	if err != nil {
		writeValidationError(w, "number: "+err.Error())
		return
	}

	num := &models.PhoneNumber{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Number:         normalized,
		Type:           models.NumberLocal,
		Provider:       req.Provider,
		ProviderSID:    req.ProviderSID,
		LiveKitTrunkID: req.LiveKitTrunkID,
		IsActive:       true,
	}
	if req.Type != "" {
		num.Type = models.PhoneNumberType(req.Type)
	}
	if !validNumberType(num.Type) {
		writeValidationError(w, "type must be one of LOCAL, MOBILE, TOLL_FREE")
		return
	}
	if req.IsActive != nil {
		num.IsActive = *req.IsActive
	}
	if req.CampaignID != nil && *req.CampaignID != "" {
		if !s.campaignExists(w, r, tenantID, *req.CampaignID) {
			return
		}
		num.CampaignID = req.CampaignID
	}

	if err := s.phoneNumbers.Create(r.Context(), num); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "number is already provisioned")
			return
		}
		writeInternalError(w, err)
		return
	}

	slog.Info("phone number created", "number_id", num.ID, "tenant_id", tenantID, "number", num.Number)
	writeJSON(w, http.StatusCreated, toPhoneNumberResponse(num))
}

// handleGetPhoneNumber returns a single provisioned number.
func (s *Server) handleGetPhoneNumber(w http.ResponseWriter, r *http.Request) {
	num, ok := s.loadPhoneNumber(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPhoneNumberResponse(num))
}

// handleUpdatePhoneNumber updates a provisioned number, including its
// campaign link used by the inbound router.
func (s *Server) handleUpdatePhoneNumber(w http.ResponseWriter, r *http.Request) {
	num, ok := s.loadPhoneNumber(w, r)
	if !ok {
		return
	}

	var req phoneNumberRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if req.Number != "" {
		normalized, err := phone.Normalize(req.Number, s.cfg.DefaultCountryCode)
		if err != nil {
			writeValidationError(w, "number: "+err.Error())
			return
		}
		num.Number = normalized
	}
	if req.Type != "" {
		num.Type = models.PhoneNumberType(req.Type)
		if !validNumberType(num.Type) {
			writeValidationError(w, "type must be one of LOCAL, MOBILE, TOLL_FREE")
			return
		}
	}
	if req.Provider != "" {
		num.Provider = req.Provider
	}
	if req.ProviderSID != "" {
		num.ProviderSID = req.ProviderSID
	}
	if req.LiveKitTrunkID != "" {
		num.LiveKitTrunkID = req.LiveKitTrunkID
	}
	if req.IsActive != nil {
		num.IsActive = *req.IsActive
	}
	if req.CampaignID != nil {
		if *req.CampaignID == "" {
			num.CampaignID = nil
		} else {
			if !s.campaignExists(w, r, num.TenantID, *req.CampaignID) {
				return
			}
			num.CampaignID = req.CampaignID
		}
	}

	if err := s.phoneNumbers.Update(r.Context(), num); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "number is already provisioned")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPhoneNumberResponse(num))
}

// handleDeletePhoneNumber removes a provisioned number record.
func (s *Server) handleDeletePhoneNumber(w http.ResponseWriter, r *http.Request) {
	num, ok := s.loadPhoneNumber(w, r)
	if !ok {
		return
	}
	if err := s.phoneNumbers.Delete(r.Context(), num.TenantID, num.ID); err != nil {
		writeInternalError(w, err)
		return
	}
	slog.Info("phone number deleted", "number_id", num.ID, "number", num.Number)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadPhoneNumber(w http.ResponseWriter, r *http.Request) (*models.PhoneNumber, bool) {
	num, err := s.phoneNumbers.GetByID(r.Context(), chi.URLParam(r, "tenantId"), chi.URLParam(r, "numberId"))
	if err != nil {
		writeInternalError(w, err)
		return nil, false
	}
	if num == nil {
		writeNotFound(w)
		return nil, false
	}
	return num, true
}

// campaignExists validates a campaign link against the tenant, answering a
// validation error when the campaign is missing or foreign.
func (s *Server) campaignExists(w http.ResponseWriter, r *http.Request, tenantID, campaignID string) bool {
	c, err := s.campaigns.GetByID(r.Context(), tenantID, campaignID)
	if err != nil {
		writeInternalError(w, err)
		return false
	}
	if c == nil {
		writeValidationError(w, "campaignId does not name a campaign in this tenant")
		return false
	}
	return true
}
