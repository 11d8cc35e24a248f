package syncmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/sidelinehq/coachsync"

// OTel records sync metrics through the OpenTelemetry metric API. It uses
// the global meter provider; the host application wires the SDK and exporter.
type OTel struct {
	pushTotal    metric.Int64Counter
	pushDuration metric.Float64Histogram
	pulledDeltas metric.Int64Counter
	pullDuration metric.Float64Histogram
	conflicts    metric.Int64Counter
	queueDepth   metric.Int64Gauge
	abandoned    metric.Int64Counter
}

var _ Collector = (*OTel)(nil)

// NewOTel builds the instrument set on the global meter provider.
func NewOTel() (*OTel, error) {
	meter := otel.Meter(instrumentationName)

	pushTotal, err := meter.Int64Counter("coachsync.push.total",
		metric.WithDescription("Push attempts by collection and outcome"))
	if err != nil {
		return nil, fmt.Errorf("push counter: %w", err)
	}
	pushDuration, err := meter.Float64Histogram("coachsync.push.duration",
		metric.WithDescription("Push attempt duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("push histogram: %w", err)
	}
	pulledDeltas, err := meter.Int64Counter("coachsync.pull.deltas",
		metric.WithDescription("Deltas applied by pull passes"))
	if err != nil {
		return nil, fmt.Errorf("pull counter: %w", err)
	}
	pullDuration, err := meter.Float64Histogram("coachsync.pull.duration",
		metric.WithDescription("Pull pass duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("pull histogram: %w", err)
	}
	conflicts, err := meter.Int64Counter("coachsync.conflicts.total",
		metric.WithDescription("Conflict resolutions by decision"))
	if err != nil {
		return nil, fmt.Errorf("conflict counter: %w", err)
	}
	queueDepth, err := meter.Int64Gauge("coachsync.queue.depth",
		metric.WithDescription("Pending mutations per collection"))
	if err != nil {
		return nil, fmt.Errorf("queue gauge: %w", err)
	}
	abandoned, err := meter.Int64Counter("coachsync.queue.abandoned",
		metric.WithDescription("Mutations moved to the abandoned list"))
	if err != nil {
		return nil, fmt.Errorf("abandoned counter: %w", err)
	}

	return &OTel{
		pushTotal:    pushTotal,
		pushDuration: pushDuration,
		pulledDeltas: pulledDeltas,
		pullDuration: pullDuration,
		conflicts:    conflicts,
		queueDepth:   queueDepth,
		abandoned:    abandoned,
	}, nil
}

func (o *OTel) RecordPush(collection, outcome string, d time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("outcome", outcome),
	)
	o.pushTotal.Add(ctx, 1, attrs)
	o.pushDuration.Record(ctx, d.Seconds(), attrs)
}

func (o *OTel) RecordPull(collection string, deltas int, d time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("collection", collection))
	o.pulledDeltas.Add(ctx, int64(deltas), attrs)
	o.pullDuration.Record(ctx, d.Seconds(), attrs)
}

func (o *OTel) RecordConflict(collection, decision string) {
	o.conflicts.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("decision", decision),
		))
}

func (o *OTel) RecordQueueDepth(collection string, depth int) {
	o.queueDepth.Record(context.Background(), int64(depth),
		metric.WithAttributes(attribute.String("collection", collection)))
}

func (o *OTel) RecordAbandonment(collection string) {
	o.abandoned.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("collection", collection)))
}
