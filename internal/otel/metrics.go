package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce        sync.Once
	jobOpsCounter          metric.Int64Counter
	jobDuration            metric.Float64Histogram
	leaseDeniedCounter     metric.Int64Counter
	recoveredJobsCounter   metric.Int64Counter
	recoveredLeasesCounter metric.Int64Counter
	sseConnectionsGauge    metric.Int64ObservableGauge
	sseEventsCounter       metric.Int64Counter
	sseConnections         int64
	sseConnectionsMu       sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		jobOpsCounter, err = m.Int64Counter("forgequeue_job_operations_total", metric.WithDescription("Total job operations (done, failed, max_attempts)"))
		if err != nil {
			return
		}
		jobDuration, err = m.Float64Histogram("forgequeue_job_duration_seconds", metric.WithDescription("Wall-clock duration of a claimed job, claim to ack"))
		if err != nil {
			return
		}
		leaseDeniedCounter, err = m.Int64Counter("forgequeue_lease_denied_total", metric.WithDescription("Total lease acquisition denials"))
		if err != nil {
			return
		}
		recoveredJobsCounter, err = m.Int64Counter("forgequeue_recovered_jobs_total", metric.WithDescription("Total jobs requeued by stale recovery"))
		if err != nil {
			return
		}
		recoveredLeasesCounter, err = m.Int64Counter("forgequeue_recovered_leases_total", metric.WithDescription("Total leases released by stale recovery"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("forgequeue_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("forgequeue_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordJobOp records one job-lifecycle operation (done, failed, max_attempts).
func RecordJobOp(ctx context.Context, op string, phase string) {
	if jobOpsCounter == nil {
		return
	}
	jobOpsCounter.Add(ctx, 1, metric.WithAttributes(
		AttrStatus.String(op),
		AttrPhase.String(phase),
	))
}

// RecordJobDuration records how long a job was held between claim and ack.
func RecordJobDuration(ctx context.Context, phase string, duration time.Duration) {
	if jobDuration != nil {
		jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrPhase.String(phase)))
	}
}

// RecordLeaseDenied records one lease acquisition denial.
func RecordLeaseDenied(ctx context.Context) {
	if leaseDeniedCounter != nil {
		leaseDeniedCounter.Add(ctx, 1)
	}
}

// RecordRecovery records the outcome of one stale-recovery sweep.
func RecordRecovery(ctx context.Context, requeuedJobs, releasedLeases int) {
	if recoveredJobsCounter != nil && requeuedJobs > 0 {
		recoveredJobsCounter.Add(ctx, int64(requeuedJobs))
	}
	if recoveredLeasesCounter != nil && releasedLeases > 0 {
		recoveredLeasesCounter.Add(ctx, int64(releasedLeases))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// QueueStatsFunc returns the current queue depth and lease count. Used for
// the forgequeue_queue_depth and forgequeue_leases_total gauges.
type QueueStatsFunc func() (queued, inProgress, leaseCount int64)

// InitMetricsWithQueueStats creates instruments and, if statsFn is non-nil,
// registers a callback that reports live queue depth/lease gauges. Call
// after InitMeterProvider.
func InitMetricsWithQueueStats(ctx context.Context, statsFn QueueStatsFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if statsFn == nil {
		return nil
	}
	m := Meter()
	queueDepthGauge, err := m.Float64ObservableGauge("forgequeue_queue_depth", metric.WithDescription("Jobs by queue status"))
	if err != nil {
		return err
	}
	leaseGauge, err := m.Float64ObservableGauge("forgequeue_leases_total", metric.WithDescription("Number of held run leases"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		queued, inProgress, leases := statsFn()
		o.ObserveFloat64(queueDepthGauge, float64(queued), metric.WithAttributes(AttrStatus.String("queued")))
		o.ObserveFloat64(queueDepthGauge, float64(inProgress), metric.WithAttributes(AttrStatus.String("in_progress")))
		o.ObserveFloat64(leaseGauge, float64(leases))
		return nil
	}, queueDepthGauge, leaseGauge)
	return err
}
