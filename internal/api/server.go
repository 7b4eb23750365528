// Package api exposes the HTTP surface: tenant-scoped CRUD, campaign control,
// lead ingest, provisioning passthrough, and the LiveKit webhooks.
package api

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dialcast/dialcast/internal/api/middleware"
	"github.com/dialcast/dialcast/internal/campaign"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/inbound"
)

// maxBodyBytes caps JSON request bodies. CSV uploads get a larger allowance.
const (
	maxBodyBytes    = 1 << 20
	maxCSVBodyBytes = 16 << 20
)

// Telephony is the provisioning slice of the fabric adapter the API exposes
// as passthrough endpoints.
type Telephony interface {
	CreateInboundTrunk(ctx context.Context, name string, numbers []string) (string, error)
	UpdateInboundTrunkNumbers(ctx context.Context, trunkID, name string, numbers []string) error
	CreateOutboundTrunk(ctx context.Context, name, address string, numbers []string, username, password string) (string, error)
	DeleteTrunk(ctx context.Context, trunkID string) error
	CreateDispatchRule(ctx context.Context, name, roomPrefix string, trunkIDs []string, metadata string) (string, error)
	DeleteDispatchRule(ctx context.Context, ruleID string) error
}

// Deps bundles everything the server needs. AuthKey nil disables bearer auth,
// which is only acceptable for local development.
type Deps struct {
	Config *config.Config

	Tenants        database.TenantRepository
	Campaigns      database.CampaignRepository
	Leads          database.LeadRepository
	Agents         database.AgentRepository
	CampaignAgents database.CampaignAgentRepository
	PhoneNumbers   database.PhoneNumberRepository
	CallLogs       database.CallLogRepository

	Supervisor *campaign.Supervisor
	Inbound    *inbound.Router
	Telephony  Telephony

	AuthKey *rsa.PublicKey
	Metrics http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	limiter *middleware.IPRateLimiter

	tenants        database.TenantRepository
	campaigns      database.CampaignRepository
	leads          database.LeadRepository
	agents         database.AgentRepository
	campaignAgents database.CampaignAgentRepository
	phoneNumbers   database.PhoneNumberRepository
	callLogs       database.CallLogRepository

	supervisor *campaign.Supervisor
	inbound    *inbound.Router
	telephony  Telephony

	authKey *rsa.PublicKey
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) *Server {
	rlCfg := middleware.WindowRateLimitConfig(
		time.Duration(d.Config.RateLimitWindowMS)*time.Millisecond,
		d.Config.RateLimitMaxRequests,
	)

	s := &Server{
		router:         chi.NewRouter(),
		cfg:            d.Config,
		limiter:        middleware.NewIPRateLimiter(rlCfg),
		tenants:        d.Tenants,
		campaigns:      d.Campaigns,
		leads:          d.Leads,
		agents:         d.Agents,
		campaignAgents: d.CampaignAgents,
		phoneNumbers:   d.PhoneNumbers,
		callLogs:       d.CallLogs,
		supervisor:     d.Supervisor,
		inbound:        d.Inbound,
		telephony:      d.Telephony,
		authKey:        d.AuthKey,
	}

	if s.authKey == nil {
		slog.Warn("JWT_PUBLIC_KEY not set; API authentication is disabled")
	}

	s.routes(d.Metrics)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures the middleware stack and mounts all route groups.
func (s *Server) routes(metrics http.Handler) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigin)))

	r.Get("/health", s.handleHealth)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Webhooks come from the telephony fabric, not from API clients:
		// no bearer auth, no rate limit. A throttled invite drops a call.
		r.Route("/webhooks/livekit", func(r chi.Router) {
			r.Post("/sip-inbound", s.handleSIPInbound)
			r.Post("/events", s.handleLiveKitEvent)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.limiter))
			if s.authKey != nil {
				r.Use(middleware.RequireAuth(s.authKey))
			}

			// Agents are deployment-wide workers, not tenant resources.
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.handleListAgents)
				r.Post("/", s.handleCreateAgent)
				r.Route("/{agentId}", func(r chi.Router) {
					r.Get("/", s.handleGetAgent)
					r.Put("/", s.handleUpdateAgent)
					r.Delete("/", s.handleDeleteAgent)
				})
			})

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", s.handleListTenants)
				r.Post("/", s.handleCreateTenant)

				r.Route("/{tenantId}", func(r chi.Router) {
					if s.authKey != nil {
						r.Use(middleware.RequireTenant)
					}
					r.Get("/", s.handleGetTenant)
					r.Put("/", s.handleUpdateTenant)

					r.Get("/leads/stats", s.handleTenantLeadStats)

					r.Route("/campaigns", func(r chi.Router) {
						r.Get("/", s.handleListCampaigns)
						r.Post("/", s.handleCreateCampaign)
						r.Route("/{campaignId}", func(r chi.Router) {
							r.Get("/", s.handleGetCampaign)
							r.Put("/", s.handleUpdateCampaign)
							r.Delete("/", s.handleDeleteCampaign)

							r.Post("/start", s.handleStartCampaign)
							r.Post("/pause", s.handlePauseCampaign)
							r.Post("/resume", s.handleResumeCampaign)
							r.Post("/stop", s.handleStopCampaign)
							r.Get("/stats", s.handleCampaignStats)

							r.Get("/calls", s.handleListCampaignCalls)

							r.Route("/leads", func(r chi.Router) {
								r.Get("/", s.handleListLeads)
								r.Post("/bulk", s.handleBulkCreateLeads)
								r.Post("/upload", s.handleUploadLeadsCSV)
								r.Route("/{leadId}", func(r chi.Router) {
									r.Get("/", s.handleGetLead)
									r.Delete("/", s.handleDeleteLead)
								})
							})

							r.Route("/agents", func(r chi.Router) {
								r.Get("/", s.handleListCampaignAgents)
								r.Post("/", s.handleAssignAgent)
								r.Delete("/{agentId}", s.handleUnassignAgent)
							})
						})
					})

					r.Route("/phone-numbers", func(r chi.Router) {
						r.Get("/", s.handleListPhoneNumbers)
						r.Post("/", s.handleCreatePhoneNumber)
						r.Route("/{numberId}", func(r chi.Router) {
							r.Get("/", s.handleGetPhoneNumber)
							r.Put("/", s.handleUpdatePhoneNumber)
							r.Delete("/", s.handleDeletePhoneNumber)
						})
					})

					r.Route("/trunks", func(r chi.Router) {
						r.Post("/inbound", s.handleCreateInboundTrunk)
						r.Put("/inbound/{trunkId}/numbers", s.handleUpdateInboundTrunkNumbers)
						r.Post("/outbound", s.handleCreateOutboundTrunk)
						r.Delete("/{trunkId}", s.handleDeleteTrunk)
					})

					r.Route("/dispatch-rules", func(r chi.Router) {
						r.Post("/", s.handleCreateDispatchRule)
						r.Delete("/{ruleId}", s.handleDeleteDispatchRule)
					})
				})
			})
		})
	})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin rejects non-admin accounts with 404 so tenant enumeration
// looks identical to a missing resource. Always passes when auth is disabled.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.authKey == nil {
		return true
	}
	if middleware.AccountIDFromContext(r.Context()) != middleware.AdminAccountID {
		writeNotFound(w)
		return false
	}
	return true
}

// readJSON decodes a JSON request body into dst. Returns a user-facing error
// message, or "" on success.
func readJSON(r *http.Request, dst any) string {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return "invalid JSON body"
	}
	return ""
}

// pageParams holds parsed pagination query parameters.
type pageParams struct {
	Limit  int
	Offset int
}

// parsePagination reads limit/offset query parameters with bounds applied.
func parsePagination(r *http.Request) (pageParams, string) {
	pg := pageParams{Limit: 50, Offset: 0}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return pg, "limit must be a positive integer"
		}
		if v > 200 {
			v = 200
		}
		pg.Limit = v
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return pg, "offset must be a non-negative integer"
		}
		pg.Offset = v
	}
	return pg, ""
}
