package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dialcast/dialcast/internal/livekit"
)

// writeTelephonyError maps a classified fabric error onto an HTTP status.
func writeTelephonyError(w http.ResponseWriter, err error) {
	slog.Error("telephony provisioning failed", "error", err)
	switch livekit.KindOf(err) {
	case livekit.KindNotFound:
		writeError(w, http.StatusNotFound, codeTelephony, err.Error())
	case livekit.KindTimeout:
		writeError(w, http.StatusGatewayTimeout, codeTelephony, err.Error())
	case livekit.KindTransient:
		writeError(w, http.StatusServiceUnavailable, codeTelephony, err.Error())
	default:
		writeError(w, http.StatusBadGateway, codeTelephony, err.Error())
	}
}

// handleCreateInboundTrunk provisions an inbound trunk on the fabric.
func (s *Server) handleCreateInboundTrunk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string   `json:"name"`
		Numbers []string `json:"numbers"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required")
		return
	}
	if len(req.Numbers) == 0 {
		writeValidationError(w, "numbers is required and must not be empty")
		return
	}

	trunkID, err := s.telephony.CreateInboundTrunk(r.Context(), req.Name, req.Numbers)
	if err != nil {
		writeTelephonyError(w, err)
		return
	}

	slog.Info("inbound trunk created", "trunk_id", trunkID, "numbers", len(req.Numbers))
	writeJSON(w, http.StatusCreated, map[string]string{"trunkId": trunkID})
}

// handleUpdateInboundTrunkNumbers replaces the number set on an inbound trunk.
func (s *Server) handleUpdateInboundTrunkNumbers(w http.ResponseWriter, r *http.Request) {
	trunkID := chi.URLParam(r, "trunkId")

	var req struct {
		Name    string   `json:"name"`
		Numbers []string `json:"numbers"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if len(req.Numbers) == 0 {
		writeValidationError(w, "numbers is required and must not be empty")
		return
	}

	if err := s.telephony.UpdateInboundTrunkNumbers(r.Context(), trunkID, req.Name, req.Numbers); err != nil {
		writeTelephonyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"trunkId": trunkID})
}

// handleCreateOutboundTrunk provisions an outbound trunk against a SIP
// provider.
func (s *Server) handleCreateOutboundTrunk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		Address      string   `json:"address"`
		Numbers      []string `json:"numbers"`
		AuthUsername string   `json:"authUsername"`
		AuthPassword string   `json:"authPassword"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required")
		return
	}
	if req.Address == "" {
		writeValidationError(w, "address is required")
		return
	}

	trunkID, err := s.telephony.CreateOutboundTrunk(r.Context(), req.Name, req.Address, req.Numbers, req.AuthUsername, req.AuthPassword)
	if err != nil {
		writeTelephonyError(w, err)
		return
	}

	slog.Info("outbound trunk created", "trunk_id", trunkID, "address", req.Address)
	writeJSON(w, http.StatusCreated, map[string]string{"trunkId": trunkID})
}

// handleDeleteTrunk removes a trunk from the fabric.
func (s *Server) handleDeleteTrunk(w http.ResponseWriter, r *http.Request) {
	trunkID := chi.URLParam(r, "trunkId")
	if err := s.telephony.DeleteTrunk(r.Context(), trunkID); err != nil {
		writeTelephonyError(w, err)
		return
	}
	slog.Info("trunk deleted", "trunk_id", trunkID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateDispatchRule creates a rule routing inbound calls on the given
// trunks into individual rooms.
func (s *Server) handleCreateDispatchRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string   `json:"name"`
		RoomPrefix string   `json:"roomPrefix"`
		TrunkIDs   []string `json:"trunkIds"`
		Metadata   string   `json:"metadata"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeValidationError(w, msg)
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required")
		return
	}
	if req.RoomPrefix == "" {
		req.RoomPrefix = "inbound-"
	}

	ruleID, err := s.telephony.CreateDispatchRule(r.Context(), req.Name, req.RoomPrefix, req.TrunkIDs, req.Metadata)
	if err != nil {
		writeTelephonyError(w, err)
		return
	}

	slog.Info("dispatch rule created", "rule_id", ruleID, "room_prefix", req.RoomPrefix)
	writeJSON(w, http.StatusCreated, map[string]string{"ruleId": ruleID})
}

// handleDeleteDispatchRule removes a dispatch rule from the fabric.
func (s *Server) handleDeleteDispatchRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if err := s.telephony.DeleteDispatchRule(r.Context(), ruleID); err != nil {
		writeTelephonyError(w, err)
		return
	}
	slog.Info("dispatch rule deleted", "rule_id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}
