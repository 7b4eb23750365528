package agents

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/database/models"
)

// SystemDefaultAgentID is the synthetic agent id used when no real agent is
// available. It participates in load tracking as a plain counter bucket but
// has no capacity limit.
const SystemDefaultAgentID = "system-default"

// Selector chooses one agent per call, respecting per-agent capacity as seen
// through the shared Tracker.
type Selector struct {
	agents      database.AgentRepository
	assignments database.CampaignAgentRepository
	tracker     *Tracker
	defaultName string
}

// NewSelector creates a selector over the given repositories and tracker.
// defaultName is the dispatch name of the synthetic fallback agent.
func NewSelector(agents database.AgentRepository, assignments database.CampaignAgentRepository, tracker *Tracker, defaultName string) *Selector {
	return &Selector{
		agents:      agents,
		assignments: assignments,
		tracker:     tracker,
		defaultName: defaultName,
	}
}

// Select picks an agent for a call in the campaign using the given strategy.
// It never returns an empty result: when no assigned agent has capacity it
// falls back to the oldest active agent, then to the synthetic default.
func (s *Selector) Select(ctx context.Context, campaignID string, strategy models.SelectionStrategy) (*models.Agent, error) {
	assignments, err := s.assignments.ListAssignments(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign assignments: %w", err)
	}
	if len(assignments) == 0 {
		return s.fallback(ctx)
	}

	switch strategy {
	case models.StrategyRoundRobin:
		cur := s.tracker.NextCursor(campaignID)
		pick := &assignments[cur%len(assignments)].Agent
		if s.hasCapacity(pick) {
			return pick, nil
		}
		// at capacity: fall through to primary-first over the full list
	case models.StrategyLeastLoaded:
		if pick := s.leastLoaded(assignments); pick != nil {
			return pick, nil
		}
		return s.fallback(ctx)
	case models.StrategyRandom:
		pick := &assignments[rand.Intn(len(assignments))].Agent
		if s.hasCapacity(pick) {
			return pick, nil
		}
	}

	// primary-first: assignments are already ordered is_primary desc,
	// created_at asc by the repository.
	for i := range assignments {
		if s.hasCapacity(&assignments[i].Agent) {
			return &assignments[i].Agent, nil
		}
	}
	return s.fallback(ctx)
}

func (s *Selector) hasCapacity(a *models.Agent) bool {
	return s.tracker.Active(a.ID) < a.MaxConcurrentCalls
}

// leastLoaded returns the agent with the fewest in-flight calls among those
// under capacity, ties broken by assignment order.
func (s *Selector) leastLoaded(assignments []models.AgentAssignment) *models.Agent {
	var best *models.Agent
	bestLoad := 0
	for i := range assignments {
		a := &assignments[i].Agent
		load := s.tracker.Active(a.ID)
		if load >= a.MaxConcurrentCalls {
			continue
		}
		if best == nil || load < bestLoad {
			best = a
			bestLoad = load
		}
	}
	return best
}

// fallback returns the oldest active agent in the store, or the synthetic
// system default when the store has none.
func (s *Selector) fallback(ctx context.Context) (*models.Agent, error) {
	agent, err := s.agents.OldestActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading fallback agent: %w", err)
	}
	if agent != nil {
		return agent, nil
	}
	return s.SystemDefault(), nil
}

// SystemDefault returns the synthetic agent used when nothing else resolves.
func (s *Selector) SystemDefault() *models.Agent {
	return &models.Agent{
		ID:                 SystemDefaultAgentID,
		Name:               s.defaultName,
		IsActive:           true,
		MaxConcurrentCalls: int(^uint(0) >> 1),
	}
}
