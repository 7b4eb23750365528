// Package campaign runs outbound calling campaigns: a bounded-concurrency
// drain loop per campaign, lifecycle events consumed by a reconciler, and a
// supervisor owning the set of running campaigns.
package campaign

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/livekit"
	"github.com/dialcast/dialcast/internal/phone"
)

// Dialer is the slice of the telephony fabric the runtime needs.
type Dialer interface {
	DispatchAgent(ctx context.Context, roomName, agentName, metadata string) (string, error)
	CreateSIPParticipant(ctx context.Context, trunkID, e164, roomName, identity, metadata string) (*livekit.Participant, error)
}

// AgentPicker selects an agent for a call.
type AgentPicker interface {
	Select(ctx context.Context, campaignID string, strategy models.SelectionStrategy) (*models.Agent, error)
}

// LoadCounter is the per-agent in-flight accounting the runtime drives.
type LoadCounter interface {
	Increment(agentID string)
	Decrement(agentID string)
}

var (
	// ErrNoPendingLeads is returned by Start when the queue is empty.
	ErrNoPendingLeads = errors.New("campaign has no pending leads")
	// ErrNoTrunk is returned by Start when the campaign has no SIP trunk.
	ErrNoTrunk = errors.New("campaign has no sip trunk configured")
	// ErrNotActive is returned by pause/resume/stop on a non-running campaign.
	ErrNotActive = errors.New("campaign is not active")
)

const (
	defaultPollInterval = time.Second
	eventBuffer         = 256
)

type inFlightCall struct {
	lead     models.Lead
	agentID  string
	roomName string
}

// Runtime executes one campaign. The drain loop is the only goroutine that
// touches the pending queue; call tasks run in parallel up to MaxConcurrent
// and report back through finishCall.
type Runtime struct {
	campaign models.Campaign

	dialer             Dialer
	selector           AgentPicker
	tracker            LoadCounter
	defaultCountryCode string
	pollInterval       time.Duration
	log                *slog.Logger

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	pending  *leadQueue
	inFlight map[string]*inFlightCall
	stats    Stats
	seq      uint64
	running  bool
	paused   bool
	stopped  bool
	closed   bool // drain loop exited, events channel closed

	wg sync.WaitGroup
}

// RuntimeOptions carries process-level knobs into a runtime.
type RuntimeOptions struct {
	DefaultCountryCode string
	PollInterval       time.Duration // defaults to 1s
	Logger             *slog.Logger
}

// NewRuntime builds a runtime over a campaign snapshot and its pending leads.
func NewRuntime(c models.Campaign, leads []models.Lead, dialer Dialer, selector AgentPicker, tracker LoadCounter, opts RuntimeOptions) *Runtime {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Runtime{
		campaign:           c,
		dialer:             dialer,
		selector:           selector,
		tracker:            tracker,
		defaultCountryCode: opts.DefaultCountryCode,
		pollInterval:       opts.PollInterval,
		log:                opts.Logger.With("campaign_id", c.ID),
		events:             make(chan Event, eventBuffer),
		done:               make(chan struct{}),
		pending:            newLeadQueue(),
		inFlight:           make(map[string]*inFlightCall),
	}
	for _, lead := range leads {
		r.pending.Push(lead)
	}
	return r
}

// Events is the runtime's ordered event stream. Closed when the run ends.
func (r *Runtime) Events() <-chan Event { return r.events }

// Done closes when the drain loop has exited and all in-flight calls have
// reported their outcomes.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// AddLeads enqueues more leads into a run already in progress. Returns false
// once the drain loop has exited; late rows stay pending in the store and are
// picked up by the next run.
func (r *Runtime) AddLeads(leads []models.Lead) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	for _, lead := range leads {
		r.pending.Push(lead)
	}
	r.emitLocked(Event{Type: EventLeadsAdded, LeadCount: len(leads)})
	return true
}

// Start begins the drain loop. Idempotent while running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	if r.campaign.SIPTrunkID == "" {
		r.mu.Unlock()
		return ErrNoTrunk
	}
	if r.pending.Len() == 0 {
		r.mu.Unlock()
		return ErrNoPendingLeads
	}
	r.running = true
	r.mu.Unlock()

	r.emit(Event{Type: EventCampaignStarted})
	go r.drain(ctx)
	return nil
}

// Pause halts new dispatch. In-flight calls continue.
func (r *Runtime) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stopped {
		return ErrNotActive
	}
	if r.paused {
		return nil
	}
	r.paused = true
	r.emitLocked(Event{Type: EventCampaignPaused})
	return nil
}

// Resume clears a pause.
func (r *Runtime) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stopped {
		return ErrNotActive
	}
	if !r.paused {
		return nil
	}
	r.paused = false
	r.emitLocked(Event{Type: EventCampaignResumed})
	return nil
}

// Stop ends the run after the current tick. In-flight calls are left to
// finish; their outcomes are still delivered. Idempotent.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotActive
	}
	if r.stopped {
		return nil
	}
	r.stopped = true
	r.paused = false
	stats := r.statsLocked()
	r.emitLocked(Event{Type: EventCampaignStopped, Stats: &stats})
	return nil
}

// Status returns a snapshot of the run.
func (r *Runtime) Status() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Runtime) statsLocked() Stats {
	s := r.stats
	s.Pending = r.pending.Len()
	s.InFlight = len(r.inFlight)
	for _, call := range r.inFlight {
		s.Active = append(s.Active, ActiveCall{
			LeadID:      call.lead.ID,
			PhoneNumber: call.lead.PhoneNumber,
			AgentID:     call.agentID,
			RoomName:    call.roomName,
		})
	}
	return s
}

// drain is the campaign's single cooperative loop.
func (r *Runtime) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			break
		}
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			break
		}
		if r.paused {
			r.mu.Unlock()
			r.sleep(ctx, r.pollInterval)
			continue
		}
		if len(r.inFlight) < r.campaign.MaxConcurrent && r.pending.Len() > 0 {
			lead, _ := r.pending.Pop()
			lead.Attempts++
			lead.Status = models.LeadCalling
			r.inFlight[lead.ID] = &inFlightCall{lead: lead}
			queueEmpty := r.pending.Len() == 0
			r.mu.Unlock()

			r.wg.Add(1)
			go r.startCall(ctx, lead)

			if delay := time.Duration(r.campaign.CallDelayMs) * time.Millisecond; delay > 0 && !queueEmpty {
				r.sleep(ctx, delay)
			}
			continue
		}
		if len(r.inFlight) == 0 && r.pending.Len() == 0 {
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		r.sleep(ctx, r.pollInterval)
	}

	r.wg.Wait()

	// The terminal event, the closed flag, and the channel close happen under
	// one critical section so no emit can race the close.
	r.mu.Lock()
	r.running = false
	if !r.stopped {
		stats := r.statsLocked()
		r.emitLocked(Event{Type: EventCampaignCompleted, Stats: &stats})
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	close(r.done)
}

// startCall places one call. Outcomes are emitted as events; no error escapes.
func (r *Runtime) startCall(ctx context.Context, lead models.Lead) {
	defer r.wg.Done()

	roomName := fmt.Sprintf("outbound-%s-%d-%s", r.campaign.ID, time.Now().UnixMilli(), randToken(6))

	agent, err := r.selector.Select(ctx, r.campaign.ID, r.campaign.Strategy)
	if err != nil {
		// the attempt is opened first so the failure pairs with a start
		r.emit(Event{Type: EventCallStarted, Lead: &lead, RoomName: roomName})
		r.finishCall(lead, "", roomName, "", "", fmt.Errorf("selecting agent: %w", err))
		return
	}
	agentName := agent.DispatchName()
	if r.campaign.AgentName != "" {
		agentName = r.campaign.AgentName
	}

	r.tracker.Increment(agent.ID)
	defer r.tracker.Decrement(agent.ID)

	r.mu.Lock()
	if call, ok := r.inFlight[lead.ID]; ok {
		call.agentID = agent.ID
		call.roomName = roomName
	}
	r.mu.Unlock()

	r.emit(Event{Type: EventCallStarted, Lead: &lead, AgentID: agent.ID, RoomName: roomName})

	e164, err := phone.Normalize(lead.PhoneNumber, r.defaultCountryCode)
	if err != nil {
		r.finishCall(lead, agent.ID, roomName, "", "", err)
		return
	}

	metadata, _ := json.Marshal(map[string]any{
		"call_type":    "outbound",
		"campaign_id":  r.campaign.ID,
		"tenant_id":    r.campaign.TenantID,
		"lead_id":      lead.ID,
		"phone_number": e164,
		"attempt":      lead.Attempts,
	})

	dispatchID, err := r.dialer.DispatchAgent(ctx, roomName, agentName, string(metadata))
	if err != nil {
		r.finishCall(lead, agent.ID, roomName, "", "", err)
		return
	}

	participant, err := r.dialer.CreateSIPParticipant(ctx, r.campaign.SIPTrunkID, e164, roomName, "lead-"+lead.ID, string(metadata))
	if err != nil {
		r.finishCall(lead, agent.ID, roomName, dispatchID, "", err)
		return
	}

	r.finishCall(lead, agent.ID, roomName, dispatchID, participant.SIPCallID, nil)
}

// finishCall records a call outcome, applies retry policy, and emits the
// terminal event for the attempt.
func (r *Runtime) finishCall(lead models.Lead, agentID, roomName, dispatchID, sipCallID string, callErr error) {
	r.mu.Lock()
	delete(r.inFlight, lead.ID)

	if callErr == nil {
		r.stats.Successful++
		r.stats.Total++
		r.mu.Unlock()
		r.emit(Event{
			Type:       EventCallCompleted,
			Lead:       &lead,
			AgentID:    agentID,
			RoomName:   roomName,
			DispatchID: dispatchID,
			SIPCallID:  sipCallID,
		})
		return
	}

	retry := r.campaign.RetryFailed && lead.Attempts <= r.campaign.RetryAttempts
	if retry {
		requeued := lead
		requeued.Status = models.LeadPending
		r.pending.Push(requeued)
	} else {
		r.stats.Failed++
		r.stats.Total++
	}
	r.mu.Unlock()

	r.log.Warn("call failed",
		"lead_id", lead.ID,
		"attempt", lead.Attempts,
		"retry", retry,
		"error", callErr)
	r.emit(Event{
		Type:       EventCallFailed,
		Lead:       &lead,
		AgentID:    agentID,
		RoomName:   roomName,
		DispatchID: dispatchID,
		Error:      callErr.Error(),
		WillRetry:  retry,
	})
}

func (r *Runtime) emit(ev Event) {
	r.mu.Lock()
	r.emitLocked(ev)
	r.mu.Unlock()
}

// emitLocked stamps and sends an event. Callers hold r.mu; the events channel
// is buffered and drained by the reconciler, so the send does not normally
// block. Seq assignment under the lock is what gives per-campaign ordering.
// Once the run has closed the channel the event is dropped.
func (r *Runtime) emitLocked(ev Event) {
	if r.closed {
		return
	}
	r.seq++
	ev.Seq = r.seq
	ev.CampaignID = r.campaign.ID
	ev.TenantID = r.campaign.TenantID
	ev.At = time.Now().UTC()
	r.events <- ev
}

func (r *Runtime) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func randToken(n int) string {
	b := make([]byte, (n+1)/2)
	rand.Read(b)
	return hex.EncodeToString(b)[:n]
}
