package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes agent, tool and search activity as prometheus metrics.
// It implements the observer interfaces of the agent, tools and search packages.
type Collector struct {
	runs        *prometheus.CounterVec
	runSteps    prometheus.Histogram
	runLatency  prometheus.Histogram
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	searches    *prometheus.CounterVec
	searchHits  prometheus.Histogram
}

// NewCollector creates and registers the collectors on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recipe_assistant",
			Name:      "agent_runs_total",
			Help:      "Agent runs by finish reason.",
		}, []string{"reason"}),
		runSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recipe_assistant",
			Name:      "agent_run_steps",
			Help:      "Generation steps per agent run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		runLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recipe_assistant",
			Name:      "agent_run_duration_seconds",
			Help:      "Wall time of agent runs.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recipe_assistant",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recipe_assistant",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recipe_assistant",
			Name:      "searches_total",
			Help:      "Hybrid searches by retrieval mode and status.",
		}, []string{"mode", "status"}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recipe_assistant",
			Name:      "search_results",
			Help:      "Matches returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
	}

	for _, col := range []prometheus.Collector{c.runs, c.runSteps, c.runLatency, c.toolCalls, c.toolLatency, c.searches, c.searchHits} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveRun(reason string, steps int, latency time.Duration) {
	c.runs.WithLabelValues(reason).Inc()
	c.runSteps.Observe(float64(steps))
	c.runLatency.Observe(latency.Seconds())
}

func (c *Collector) ObserveToolCall(tool, outcome string, latency time.Duration) {
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

func (c *Collector) ObserveSearch(mode string, results int, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.searches.WithLabelValues(mode, status).Inc()
	if err == nil {
		c.searchHits.Observe(float64(results))
	}
}
