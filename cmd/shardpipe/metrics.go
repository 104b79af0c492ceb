package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/turbot/shardpipe/metrics"
)

func newMetricsRegistry() (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return registry, nil
}

// writeMetrics writes the gathered metrics to path in the text exposition format
// nothing is written if path is empty
func writeMetrics(registry *prometheus.Registry, path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
