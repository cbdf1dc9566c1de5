package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxintel/callgate/gateway"
)

/* OpenTelemetry instruments for the ingestion pipeline, exported in
 * Prometheus format. The exporter implements gateway.Observer so the
 * pipeline stays free of metrics plumbing.
 */
type Exporter struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	accepted            metric.Int64Counter
	rejected            metric.Int64Counter
	duplicates          metric.Int64Counter
	persistenceFailures metric.Int64Counter
}

// NewExporter creates the OpenTelemetry metrics exporter with Prometheus format
func NewExporter() (*Exporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"callgate",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	e := &Exporter{
		meterProvider: meterProvider,
		meter:         meter,
	}
	if err := e.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}
	return e, nil
}

// registerInstruments creates and registers all metric instruments
func (e *Exporter) registerInstruments() error {
	var err error

	e.accepted, err = e.meter.Int64Counter(
		"webhook.ingest.accepted",
		metric.WithDescription("Webhooks authenticated, routed and persisted"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return fmt.Errorf("creating accepted counter: %w", err)
	}

	e.rejected, err = e.meter.Int64Counter(
		"webhook.ingest.rejected",
		metric.WithDescription("Webhooks rejected or dropped, by reason"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return fmt.Errorf("creating rejected counter: %w", err)
	}

	e.duplicates, err = e.meter.Int64Counter(
		"webhook.ingest.duplicates",
		metric.WithDescription("Redelivered webhooks suppressed by the replay guard"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return fmt.Errorf("creating duplicates counter: %w", err)
	}

	e.persistenceFailures, err = e.meter.Int64Counter(
		"webhook.ingest.persistence_failures",
		metric.WithDescription("Acknowledged webhooks the sink failed to record"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return fmt.Errorf("creating persistence failure counter: %w", err)
	}
	return nil
}

// Accepted counts a fully ingested webhook
func (e *Exporter) Accepted(provider gateway.Provider) {
	e.accepted.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider.String()),
	))
}

// Rejected counts a rejection by reason
func (e *Exporter) Rejected(reason gateway.Reason) {
	e.rejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason.String()),
	))
}

// Duplicate counts a suppressed redelivery
func (e *Exporter) Duplicate(provider gateway.Provider) {
	e.duplicates.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider.String()),
	))
}

// PersistenceFailure counts an acknowledged-but-unrecorded event
func (e *Exporter) PersistenceFailure(provider gateway.Provider) {
	e.persistenceFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider.String()),
	))
}

// Handler serves Prometheus-formatted metrics
func (e *Exporter) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.meterProvider != nil {
		return e.meterProvider.Shutdown(ctx)
	}
	return nil
}
