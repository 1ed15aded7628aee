package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus
// metrics.
type PrometheusCollector struct {
	// Ingest connection metrics
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	// Frame metrics
	framesReceivedTotal *prometheus.CounterVec
	framesRejectedTotal *prometheus.CounterVec

	// Spool metrics
	spoolEnqueuedTotal   prometheus.Counter
	spoolSizeBytes       prometheus.Histogram
	spoolMovesTotal      *prometheus.CounterVec
	watcherDroppedTotal  prometheus.Counter
	workerCompletedTotal *prometheus.CounterVec

	// Observer-event metrics (daemon side)
	observerEventsTotal     *prometheus.CounterVec
	heartbeatsReceivedTotal prometheus.Counter

	// IMAP poller metrics
	imapPollsTotal *prometheus.CounterVec

	// Syslog metrics (observer side)
	syslogParsedTotal    *prometheus.CounterVec
	syslogDroppedTotal   *prometheus.CounterVec
	correlationHitsTotal prometheus.Counter
	correlationMissTotal prometheus.Counter
	queueMapSize         prometheus.Gauge
	queueMapEvictedTotal *prometheus.CounterVec

	// Publisher metrics (observer side)
	eventsPublishedTotal prometheus.Counter
	eventsDroppedTotal   prometheus.Counter
	reconnectsTotal      prometheus.Counter
	heartbeatsSentTotal  prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics
// registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_connections_total",
			Help: "Total number of ingest connections opened.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bouncer_connections_active",
			Help: "Number of currently active ingest connections.",
		}),

		framesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_frames_received_total",
			Help: "Total number of frames received.",
		}, []string{"kind"}),
		framesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_frames_rejected_total",
			Help: "Total number of frames rejected.",
		}, []string{"reason"}),

		spoolEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_spool_enqueued_total",
			Help: "Total number of bounce payloads committed to the spool.",
		}),
		spoolSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bouncer_spool_size_bytes",
			Help:    "Size of spooled bounce payloads in bytes.",
			Buckets: []float64{1024, 4096, 16384, 65536, 262144, 1048576, 2097152},
		}),
		spoolMovesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_spool_moves_total",
			Help: "Total number of spool state transitions.",
		}, []string{"dest"}),
		watcherDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_watcher_dropped_total",
			Help: "Watcher events dropped because the process queue was full.",
		}),
		workerCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_worker_completed_total",
			Help: "Total number of spool items processed by workers.",
		}, []string{"result"}),

		observerEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_observer_events_total",
			Help: "Total number of observer events applied to the database.",
		}, []string{"result"}),
		heartbeatsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_heartbeats_received_total",
			Help: "Total number of observer heartbeats received.",
		}),

		imapPollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bouncer_imap_polls_total",
			Help: "Total number of IMAP poll cycles.",
		}, []string{"result"}),

		syslogParsedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_syslog_parsed_total",
			Help: "Total number of syslog lines parsed.",
		}, []string{"program"}),
		syslogDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_syslog_dropped_total",
			Help: "Total number of syslog lines dropped.",
		}, []string{"reason"}),
		correlationHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_correlation_hits_total",
			Help: "Delivery lines joined with a known queue-id mapping.",
		}),
		correlationMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_correlation_miss_total",
			Help: "Delivery lines without a known queue-id mapping.",
		}),
		queueMapSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "observer_queue_map_size",
			Help: "Current number of queue-id mappings held.",
		}),
		queueMapEvictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_queue_map_evicted_total",
			Help: "Queue-id mappings evicted.",
		}, []string{"reason"}),

		eventsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_events_published_total",
			Help: "Observer events acknowledged by the daemon.",
		}),
		eventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_events_dropped_total",
			Help: "Observer events dropped due to publisher queue overflow.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_reconnects_total",
			Help: "Publisher reconnect attempts.",
		}),
		heartbeatsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_heartbeats_sent_total",
			Help: "Heartbeat events sent to the daemon.",
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.framesReceivedTotal,
		c.framesRejectedTotal,
		c.spoolEnqueuedTotal,
		c.spoolSizeBytes,
		c.spoolMovesTotal,
		c.watcherDroppedTotal,
		c.workerCompletedTotal,
		c.observerEventsTotal,
		c.heartbeatsReceivedTotal,
		c.imapPollsTotal,
		c.syslogParsedTotal,
		c.syslogDroppedTotal,
		c.correlationHitsTotal,
		c.correlationMissTotal,
		c.queueMapSize,
		c.queueMapEvictedTotal,
		c.eventsPublishedTotal,
		c.eventsDroppedTotal,
		c.reconnectsTotal,
		c.heartbeatsSentTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// FrameReceived increments the received-frame counter.
func (c *PrometheusCollector) FrameReceived(kind string) {
	c.framesReceivedTotal.WithLabelValues(kind).Inc()
}

// FrameRejected increments the rejected-frame counter.
func (c *PrometheusCollector) FrameRejected(reason string) {
	c.framesRejectedTotal.WithLabelValues(reason).Inc()
}

// SpoolEnqueued increments the spool counter and observes the payload size.
func (c *PrometheusCollector) SpoolEnqueued(sizeBytes int64) {
	c.spoolEnqueuedTotal.Inc()
	c.spoolSizeBytes.Observe(float64(sizeBytes))
}

// SpoolMoved increments the spool transition counter.
func (c *PrometheusCollector) SpoolMoved(dest string) {
	c.spoolMovesTotal.WithLabelValues(dest).Inc()
}

// WatcherEventDropped increments the watcher drop counter.
func (c *PrometheusCollector) WatcherEventDropped() {
	c.watcherDroppedTotal.Inc()
}

// WorkerCompleted increments the worker outcome counter.
func (c *PrometheusCollector) WorkerCompleted(result string) {
	c.workerCompletedTotal.WithLabelValues(result).Inc()
}

// ObserverEventApplied increments the observer-event counter.
func (c *PrometheusCollector) ObserverEventApplied(result string) {
	c.observerEventsTotal.WithLabelValues(result).Inc()
}

// HeartbeatReceived increments the heartbeat counter.
func (c *PrometheusCollector) HeartbeatReceived() {
	c.heartbeatsReceivedTotal.Inc()
}

// ImapPollCompleted increments the IMAP poll counter.
func (c *PrometheusCollector) ImapPollCompleted(result string) {
	c.imapPollsTotal.WithLabelValues(result).Inc()
}

// SyslogLineParsed increments the parsed-line counter.
func (c *PrometheusCollector) SyslogLineParsed(program string) {
	c.syslogParsedTotal.WithLabelValues(program).Inc()
}

// SyslogLineDropped increments the dropped-line counter.
func (c *PrometheusCollector) SyslogLineDropped(reason string) {
	c.syslogDroppedTotal.WithLabelValues(reason).Inc()
}

// CorrelationHit increments the correlation hit counter.
func (c *PrometheusCollector) CorrelationHit() {
	c.correlationHitsTotal.Inc()
}

// CorrelationMiss increments the correlation miss counter.
func (c *PrometheusCollector) CorrelationMiss() {
	c.correlationMissTotal.Inc()
}

// QueueMapSize records the current queue-map size.
func (c *PrometheusCollector) QueueMapSize(n int) {
	c.queueMapSize.Set(float64(n))
}

// QueueMapEvicted increments the eviction counter.
func (c *PrometheusCollector) QueueMapEvicted(reason string) {
	c.queueMapEvictedTotal.WithLabelValues(reason).Inc()
}

// EventPublished increments the published-event counter.
func (c *PrometheusCollector) EventPublished() {
	c.eventsPublishedTotal.Inc()
}

// EventDropped increments the overflow drop counter.
func (c *PrometheusCollector) EventDropped() {
	c.eventsDroppedTotal.Inc()
}

// PublisherReconnected increments the reconnect counter.
func (c *PrometheusCollector) PublisherReconnected() {
	c.reconnectsTotal.Inc()
}

// HeartbeatSent increments the sent-heartbeat counter.
func (c *PrometheusCollector) HeartbeatSent() {
	c.heartbeatsSentTotal.Inc()
}
