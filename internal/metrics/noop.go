package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// FrameReceived is a no-op.
func (n *NoopCollector) FrameReceived(kind string) {}

// FrameRejected is a no-op.
func (n *NoopCollector) FrameRejected(reason string) {}

// SpoolEnqueued is a no-op.
func (n *NoopCollector) SpoolEnqueued(sizeBytes int64) {}

// SpoolMoved is a no-op.
func (n *NoopCollector) SpoolMoved(dest string) {}

// WatcherEventDropped is a no-op.
func (n *NoopCollector) WatcherEventDropped() {}

// WorkerCompleted is a no-op.
func (n *NoopCollector) WorkerCompleted(result string) {}

// ObserverEventApplied is a no-op.
func (n *NoopCollector) ObserverEventApplied(result string) {}

// HeartbeatReceived is a no-op.
func (n *NoopCollector) HeartbeatReceived() {}

// ImapPollCompleted is a no-op.
func (n *NoopCollector) ImapPollCompleted(result string) {}

// SyslogLineParsed is a no-op.
func (n *NoopCollector) SyslogLineParsed(program string) {}

// SyslogLineDropped is a no-op.
func (n *NoopCollector) SyslogLineDropped(reason string) {}

// CorrelationHit is a no-op.
func (n *NoopCollector) CorrelationHit() {}

// CorrelationMiss is a no-op.
func (n *NoopCollector) CorrelationMiss() {}

// QueueMapSize is a no-op.
func (n *NoopCollector) QueueMapSize(size int) {}

// QueueMapEvicted is a no-op.
func (n *NoopCollector) QueueMapEvicted(reason string) {}

// EventPublished is a no-op.
func (n *NoopCollector) EventPublished() {}

// EventDropped is a no-op.
func (n *NoopCollector) EventDropped() {}

// PublisherReconnected is a no-op.
func (n *NoopCollector) PublisherReconnected() {}

// HeartbeatSent is a no-op.
func (n *NoopCollector) HeartbeatSent() {}
