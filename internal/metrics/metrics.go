// Package metrics exposes operational gauges and counters as a Prometheus
// collector that queries its providers at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcast/dialcast/internal/database/models"
)

// CampaignActivityProvider exposes the live campaign registry.
type CampaignActivityProvider interface {
	ActiveCampaigns() []string
	InFlightTotal() int
}

// AgentLoadProvider exposes per-agent in-flight call counts.
type AgentLoadProvider interface {
	Snapshot() map[string]int
}

// CallCounter returns call-log totals grouped by outcome.
type CallCounter interface {
	CountByStatus(ctx context.Context) (map[models.CallStatus]int64, error)
}

// Collector is a prometheus.Collector that gathers dialcast metrics at scrape time.
type Collector struct {
	campaigns CampaignActivityProvider
	agents    AgentLoadProvider
	calls     CallCounter
	startTime time.Time

	activeCampaignsDesc *prometheus.Desc
	inFlightDesc        *prometheus.Desc
	agentLoadDesc       *prometheus.Desc
	callsTotalDesc      *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	campaigns CampaignActivityProvider,
	agents AgentLoadProvider,
	calls CallCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		campaigns: campaigns,
		agents:    agents,
		calls:     calls,
		startTime: startTime,

		activeCampaignsDesc: prometheus.NewDesc(
			"dialcast_active_campaigns",
			"Number of campaigns with a live runtime",
			nil, nil,
		),
		inFlightDesc: prometheus.NewDesc(
			"dialcast_calls_in_flight",
			"Number of outbound calls currently in flight across all campaigns",
			nil, nil,
		),
		agentLoadDesc: prometheus.NewDesc(
			"dialcast_agent_load",
			"In-flight calls per agent",
			[]string{"agent_id"}, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"dialcast_calls_total",
			"Total call log rows by outcome",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialcast_uptime_seconds",
			"Seconds since the dialcast process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCampaignsDesc
	ch <- c.inFlightDesc
	ch <- c.agentLoadDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.campaigns != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCampaignsDesc, prometheus.GaugeValue,
			float64(len(c.campaigns.ActiveCampaigns())),
		)
		ch <- prometheus.MustNewConstMetric(
			c.inFlightDesc, prometheus.GaugeValue,
			float64(c.campaigns.InFlightTotal()),
		)
	}

	if c.agents != nil {
		for agentID, load := range c.agents.Snapshot() {
			ch <- prometheus.MustNewConstMetric(
				c.agentLoadDesc, prometheus.GaugeValue,
				float64(load), agentID,
			)
		}
	}

	if c.calls != nil {
		counts, err := c.calls.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for _, status := range []models.CallStatus{models.CallRinging, models.CallCompleted, models.CallFailed} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[status]), string(status),
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// Handler registers the collector on a fresh registry and returns the scrape
// handler, keeping process-default collectors out of the exposition.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
