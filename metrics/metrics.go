package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "shardpipe"

	MetricSamplesWritten = "samples_written_total"
	MetricSamplesSkipped = "samples_skipped_total"
	MetricRecordsRead    = "records_read_total"
	MetricBatches        = "batches_total"
)

var SamplesWritten = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricSamplesWritten,
		Help:      "Number of samples pushed to shard writers.",
	},
	[]string{"split"},
)

var SamplesSkipped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricSamplesSkipped,
		Help:      "Number of dataset entries skipped because they could not be read, decoded or resized.",
	},
	[]string{"split"},
)

var RecordsRead = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "serving",
		Name:      MetricRecordsRead,
		Help:      "Number of records read from shard files.",
	},
	[]string{"mode"},
)

var Batches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "serving",
		Name:      MetricBatches,
		Help:      "Number of batches produced by record streams.",
	},
	[]string{"mode"},
)

// Register registers all collectors with reg, ignoring collectors which are already registered
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{SamplesWritten, SamplesSkipped, RecordsRead, Batches} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
