package report

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics exports the run as Prometheus text format, for collection by
// a node exporter textfile collector or CI dashboards.
func WriteMetrics(path string, r Run) error {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"scenario": r.Scenario, "mode": string(r.Verdict.Mode)}

	success := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_run_success",
		Help: "1 when the run met its expectation (PASS or REPRODUCED).",
	}, []string{"scenario", "mode"})
	outcome := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_run_outcome",
		Help: "The verdict of the run, one series set to 1.",
	}, []string{"scenario", "mode", "outcome"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_turn_duration_seconds",
		Help: "Wall-clock duration of each turn.",
	}, []string{"scenario", "mode", "turn"})
	exitCode := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_turn_exit_code",
		Help: "Exit code of the agent process for each turn.",
	}, []string{"scenario", "mode", "turn"})
	events := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_transcript_events",
		Help: "Normalized transcript events by kind.",
	}, []string{"scenario", "mode", "kind"})
	capability := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_capability_observed",
		Help: "Capabilities invoked during the run.",
	}, []string{"scenario", "mode", "capability"})
	warnings := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skilltest_transcript_warnings",
		Help: "Transcript lines skipped as malformed.",
	}, []string{"scenario", "mode"})

	for _, c := range []prometheus.Collector{success, outcome, duration, exitCode, events, capability, warnings} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}

	if r.Success {
		success.With(labels).Set(1)
	} else {
		success.With(labels).Set(0)
	}
	outcome.With(with(labels, "outcome", string(r.Verdict.Outcome))).Set(1)
	for _, t := range r.Turns {
		turn := strconv.Itoa(t.Index)
		duration.With(with(labels, "turn", turn)).Set(t.Duration.Seconds())
		exitCode.With(with(labels, "turn", turn)).Set(float64(t.ExitCode))
	}
	for kind, n := range r.EventCounts {
		events.With(with(labels, "kind", string(kind))).Set(float64(n))
	}
	for _, name := range r.Verdict.Evidence.Observed {
		capability.With(with(labels, "capability", name)).Set(1)
	}
	warnings.With(labels).Set(float64(len(r.Warnings)))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func with(base prometheus.Labels, key, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
