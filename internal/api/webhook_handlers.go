package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/dialcast/dialcast/internal/inbound"
)

// handleSIPInbound answers the fabric's SIP INVITE webhook. The response is
// the plain agent-selection shape the fabric expects, not the API envelope.
// A malformed payload still gets a dispatchable default agent: failing the
// webhook drops a live call.
func (s *Server) handleSIPInbound(w http.ResponseWriter, r *http.Request) {
	var inv inbound.Invite
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&inv); err != nil {
		slog.Warn("malformed sip-inbound payload", "error", err)
	}

	resp := s.inbound.HandleInvite(r.Context(), inv)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode invite response", "error", err)
	}
}

// livekitEvent is the slice of the fabric's room lifecycle webhook payload
// the router needs.
type livekitEvent struct {
	Event string `json:"event"`
	Room  struct {
		Name string `json:"name"`
	} `json:"room"`
	CallID           string `json:"call_id"`
	Duration         int    `json:"duration"`
	DisconnectReason string `json:"disconnect_reason"`
}

// handleLiveKitEvent consumes room lifecycle events. The fabric retries on
// non-2xx, so processing failures are logged and the event acknowledged.
func (s *Server) handleLiveKitEvent(w http.ResponseWriter, r *http.Request) {
	var ev livekitEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		slog.Warn("malformed livekit event payload", "error", err)
		writeJSON(w, http.StatusOK, nil)
		return
	}

	switch ev.Event {
	case "room_finished", "call_ended":
		if err := s.inbound.HandleCallEnded(r.Context(), ev.CallID, ev.Room.Name, ev.Duration, ev.DisconnectReason); err != nil {
			slog.Error("call-ended reconciliation failed",
				"event", ev.Event,
				"call_id", ev.CallID,
				"room", ev.Room.Name,
				"error", err,
			)
		}
	default:
		slog.Debug("ignoring livekit event", "event", ev.Event)
	}

	writeJSON(w, http.StatusOK, nil)
}
