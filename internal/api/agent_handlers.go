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

// agentRequest is the JSON body for creating/updating an agent.
type agentRequest struct {
	Name               string `json:"name"`
	IsActive           *bool  `json:"isActive"`
	MaxConcurrentCalls *int   `json:"maxConcurrentCalls"`
	LiveKitAgentName   string `json:"livekitAgentName"`
}

// agentResponse is the JSON response for a single agent.
type agentResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	IsActive           bool   `json:"isActive"`
	MaxConcurrentCalls int    `json:"maxConcurrentCalls"`
	LiveKitAgentName   string `json:"livekitAgentName,omitempty"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

func toAgentResponse(a *models.Agent) agentResponse {
	return agentResponse{
		ID:                 a.ID,
		Name:               a.Name,
		IsActive:           a.IsActive,
		MaxConcurrentCalls: a.MaxConcurrentCalls,
		LiveKitAgentName:   a.LiveKitAgentName,
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListAgents returns all agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	items := make([]agentResponse, len(agents))
	for i := range agents {
		items[i] = toAgentResponse(&agents[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateAgent registers a new agent worker.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required")
		return
	}

	agent := &models.Agent{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		IsActive:           true,
		MaxConcurrentCalls: 1,
		LiveKitAgentName:   req.LiveKitAgentName,
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	if req.MaxConcurrentCalls != nil {
		agent.MaxConcurrentCalls = *req.MaxConcurrentCalls
	}
	if agent.MaxConcurrentCalls < 1 {
		writeValidationError(w, "maxConcurrentCalls must be a positive integer")
		return
	}

	if err := s.agents.Create(r.Context(), agent); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "an agent with this name already exists")
			return
		}
		writeInternalError(w, err)
		return
	}

	slog.Info("agent created", "agent_id", agent.ID, "name", agent.Name)
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// handleGetAgent returns a single agent.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.loadAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// handleUpdateAgent updates an agent's configuration.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.loadAgent(w, r)
	if !ok {
		return
	}

	var req agentRequest
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}

	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	if req.MaxConcurrentCalls != nil {
		agent.MaxConcurrentCalls = *req.MaxConcurrentCalls
	}
	if req.LiveKitAgentName != "" {
		agent.LiveKitAgentName = req.LiveKitAgentName
	}
	if agent.MaxConcurrentCalls < 1 {
		writeValidationError(w, "maxConcurrentCalls must be a positive integer")
		return
	}

	if err := s.agents.Update(r.Context(), agent); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "an agent with this name already exists")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// handleDeleteAgent removes an agent.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.loadAgent(w, r)
	if !ok {
		return
	}
	if err := s.agents.Delete(r.Context(), agent.ID); err != nil {
		writeInternalError(w, err)
		return
	}
	slog.Info("agent deleted", "agent_id", agent.ID, "name", agent.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	agent, err := s.agents.GetByID(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		writeInternalError(w, err)
		return nil, false
	}
	if agent == nil {
		writeNotFound(w)
		return nil, false
	}
	return agent, true
}

// assignmentResponse is the JSON response for a campaign agent assignment.
type assignmentResponse struct {
	AgentID            string `json:"agentId"`
	Name               string `json:"name"`
	IsPrimary          bool   `json:"isPrimary"`
	MaxConcurrentCalls int    `json:"maxConcurrentCalls"`
	AssignedAt         string `json:"assignedAt"`
}

// handleListCampaignAgents returns the campaign's agent assignments in
// selection order.
func (s *Server) handleListCampaignAgents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	assignments, err := s.campaignAgents.ListAssignments(r.Context(), c.ID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	items := make([]assignmentResponse, len(assignments))
	for i, asg := range assignments {
		items[i] = assignmentResponse{
			AgentID:            asg.Agent.ID,
			Name:               asg.Agent.Name,
			IsPrimary:          asg.IsPrimary,
			MaxConcurrentCalls: asg.Agent.MaxConcurrentCalls,
			AssignedAt:         asg.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleAssignAgent links an agent to a campaign.
func (s *Server) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	var req struct {
		AgentID   string `json:"agentId"`
		IsPrimary bool   `json:"isPrimary"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.AgentID == "" {
		writeValidationError(w, "agentId is required")
		return
	}

	agent, err := s.agents.GetByID(r.Context(), req.AgentID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agent == nil {
		writeNotFound(w)
		return
	}

	ca := &models.CampaignAgent{
		CampaignID: c.ID,
		AgentID:    agent.ID,
		IsPrimary:  req.IsPrimary,
	}
	if err := s.campaignAgents.Assign(r.Context(), ca); err != nil {
		if database.IsUniqueViolation(err) {
			writeConflict(w, "agent is already assigned to this campaign")
			return
		}
		writeInternalError(w, err)
		return
	}

	slog.Info("agent assigned", "campaign_id", c.ID, "agent_id", agent.ID, "is_primary", req.IsPrimary)
	writeJSON(w, http.StatusCreated, assignmentResponse{
		AgentID:            agent.ID,
		Name:               agent.Name,
		IsPrimary:          ca.IsPrimary,
		MaxConcurrentCalls: agent.MaxConcurrentCalls,
		AssignedAt:         ca.CreatedAt.Format(time.RFC3339),
	})
}

// handleUnassignAgent removes an agent from a campaign.
func (s *Server) handleUnassignAgent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if err := s.campaignAgents.Unassign(r.Context(), c.ID, chi.URLParam(r, "agentId")); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
