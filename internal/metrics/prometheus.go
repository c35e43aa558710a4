// Package metrics wraps Prometheus collectors for the alarmgen daemon:
// bus throughput, aggregation cycle latency, alarm FSM transitions, and
// store health, per SPEC_FULL.md §11.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the alarmgen daemon.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	busMessagesTotal    *prometheus.CounterVec
	poisonMessagesTotal *prometheus.CounterVec
	storeErrorsTotal    *prometheus.CounterVec
	alarmTransitions    *prometheus.CounterVec

	aggregationCycleSeconds *prometheus.HistogramVec
	storePublishSeconds     *prometheus.HistogramVec

	ownedPartitions  prometheus.Gauge
	uveKeys          *prometheus.GaugeVec
	alarmActiveCount prometheus.Gauge
	partitionEpoch   *prometheus.GaugeVec
}

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		busMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_total",
				Help:      "Total bus messages consumed, by partition",
			},
			[]string{"partition"},
		),
		poisonMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poison_messages_total",
				Help:      "Total malformed UVE payloads skipped, by table",
			},
			[]string{"table"},
		),
		storeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total aggregate store operation errors, by operation",
			},
			[]string{"op"},
		),
		alarmTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarm_transitions_total",
				Help:      "Total alarm FSM transitions, by destination state",
			},
			[]string{"state"},
		),
		aggregationCycleSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_cycle_seconds",
				Help:      "Duration of one aggregator drain cycle",
				Buckets:   buckets,
			},
			[]string{"partition"},
		),
		storePublishSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_publish_seconds",
				Help:      "Duration of aggregate store publish batches",
				Buckets:   buckets,
			},
			[]string{"op"},
		),
		ownedPartitions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "owned_partitions",
				Help:      "Number of partitions currently owned by this instance",
			},
		),
		uveKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uve_keys",
				Help:      "Number of UVE keys tracked, by partition",
			},
			[]string{"partition"},
		),
		alarmActiveCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alarm_active_count",
				Help:      "Number of alarms currently in Active or Soak_Idle state",
			},
		),
		partitionEpoch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partition_epoch_micros",
				Help:      "Current acquisition epoch (acq_time) per owned partition",
			},
			[]string{"partition"},
		),
	}

	registry.MustRegister(
		pm.busMessagesTotal,
		pm.poisonMessagesTotal,
		pm.storeErrorsTotal,
		pm.alarmTransitions,
		pm.aggregationCycleSeconds,
		pm.storePublishSeconds,
		pm.ownedPartitions,
		pm.uveKeys,
		pm.alarmActiveCount,
		pm.partitionEpoch,
	)

	promMetrics = pm
}

// Handler returns the HTTP handler serving the Prometheus exposition format,
// mounted on the admin HTTP mux at /metrics.
func Handler() http.Handler {
	if promMetrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// RecordBusMessage increments the consumed-message counter for a partition.
func RecordBusMessage(partition int) {
	if promMetrics == nil {
		return
	}
	promMetrics.busMessagesTotal.WithLabelValues(itoa(partition)).Inc()
}

// RecordPoisonMessage increments the poison-message counter for a table.
func RecordPoisonMessage(table string) {
	if promMetrics == nil {
		return
	}
	promMetrics.poisonMessagesTotal.WithLabelValues(table).Inc()
}

// RecordStoreError increments the store-error counter for an operation.
func RecordStoreError(op string) {
	if promMetrics == nil {
		return
	}
	promMetrics.storeErrorsTotal.WithLabelValues(op).Inc()
}

// RecordAlarmTransition increments the alarm-transition counter for a destination state.
func RecordAlarmTransition(state string) {
	if promMetrics == nil {
		return
	}
	promMetrics.alarmTransitions.WithLabelValues(state).Inc()
}

// ObserveAggregationCycle records the duration of one aggregator drain cycle.
func ObserveAggregationCycle(partition int, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.aggregationCycleSeconds.WithLabelValues(itoa(partition)).Observe(d.Seconds())
}

// ObserveStorePublish records the duration of a store publish/clear operation.
func ObserveStorePublish(op string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.storePublishSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// SetOwnedPartitions sets the current owned-partition count gauge.
func SetOwnedPartitions(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.ownedPartitions.Set(float64(n))
}

// SetUVEKeys sets the tracked-key-count gauge for a partition.
func SetUVEKeys(partition, n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.uveKeys.WithLabelValues(itoa(partition)).Set(float64(n))
}

// SetAlarmActiveCount sets the Active/Soak_Idle alarm-count gauge.
func SetAlarmActiveCount(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.alarmActiveCount.Set(float64(n))
}

// SetPartitionEpoch sets the acq_time gauge for an owned partition.
func SetPartitionEpoch(partition int, epochMicros int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.partitionEpoch.WithLabelValues(itoa(partition)).Set(float64(epochMicros))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
