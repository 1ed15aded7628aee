// Package metrics provides interfaces and implementations for collecting
// bounce-pipeline metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Collector defines the interface for recording pipeline metrics. The daemon
// and the observer each use the subset relevant to them; unused methods cost
// nothing.
type Collector interface {
	// Ingest connection metrics
	ConnectionOpened()
	ConnectionClosed()

	// Frame metrics
	FrameReceived(kind string)
	FrameRejected(reason string)

	// Spool metrics
	SpoolEnqueued(sizeBytes int64)
	SpoolMoved(dest string)
	WatcherEventDropped()
	WorkerCompleted(result string)

	// Observer-event metrics (daemon side)
	ObserverEventApplied(result string)
	HeartbeatReceived()

	// IMAP poller metrics
	ImapPollCompleted(result string)

	// Syslog metrics (observer side)
	SyslogLineParsed(program string)
	SyslogLineDropped(reason string)
	CorrelationHit()
	CorrelationMiss()
	QueueMapSize(n int)
	QueueMapEvicted(reason string)

	// Publisher metrics (observer side)
	EventPublished()
	EventDropped()
	PublisherReconnected()
	HeartbeatSent()
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
