package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"raffler/config"
	domainevents "raffler/domain/events"
	bus "raffler/events"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics for the raffle service
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	mu            sync.RWMutex

	// Metric instruments
	entriesCounter               metric.Int64Counter
	drawsRequestedCounter        metric.Int64Counter
	winnersPickedCounter         metric.Int64Counter
	poolBalanceGauge             metric.Int64UpDownCounter
	payoutHist                   metric.Int64Histogram
	natsMessagesReceivedCounter  metric.Int64Counter
	natsMessagesPublishedCounter metric.Int64Counter
	balanceTransactionsCounter   metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Debug("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	var exporter sdkmetric.Exporter
	var err error
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		log.Info("Using console metric exporter")

	case "otlp":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(dialCtx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	reader := sdkmetric.NewPeriodicReader(
		exporter,
		sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
	)
	if err := mp.initializeWithReader(reader); err != nil {
		return err
	}

	otel.SetMeterProvider(mp.meterProvider)
	log.Info("Metrics provider initialized successfully")
	return nil
}

// initializeWithReader builds the meter provider around reader. Caller holds mu.
func (mp *MetricsProvider) initializeWithReader(reader sdkmetric.Reader) error {
	// Service attributes only; merging with resource.Default can conflict on schema URL
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(mp.config.OTelServiceName),
		attribute.String("environment", mp.config.Environment),
	)

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	mp.meter = mp.meterProvider.Meter("raffler")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	return nil
}

// createInstruments creates all metric instruments
func (mp *MetricsProvider) createInstruments() error {
	var err error

	mp.entriesCounter, err = mp.meter.Int64Counter(
		EntriesTotal,
		metric.WithDescription("Total number of raffle entries accepted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create entries counter: %w", err)
	}

	mp.drawsRequestedCounter, err = mp.meter.Int64Counter(
		DrawsRequestedTotal,
		metric.WithDescription("Total number of randomness requests issued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create draws requested counter: %w", err)
	}

	mp.winnersPickedCounter, err = mp.meter.Int64Counter(
		WinnersPickedTotal,
		metric.WithDescription("Total number of completed draws"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create winners picked counter: %w", err)
	}

	// UpDownCounter for gauge-like behavior
	mp.poolBalanceGauge, err = mp.meter.Int64UpDownCounter(
		PoolBalance,
		metric.WithDescription("Funds currently held in the open round"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pool balance gauge: %w", err)
	}

	mp.payoutHist, err = mp.meter.Int64Histogram(
		PayoutAmount,
		metric.WithDescription("Amount paid to each round winner"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create payout histogram: %w", err)
	}

	mp.natsMessagesReceivedCounter, err = mp.meter.Int64Counter(
		NATSMessagesReceivedTotal,
		metric.WithDescription("Total number of NATS messages received"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS messages received counter: %w", err)
	}

	mp.natsMessagesPublishedCounter, err = mp.meter.Int64Counter(
		NATSMessagesPublishedTotal,
		metric.WithDescription("Total number of NATS messages published"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS messages published counter: %w", err)
	}

	mp.balanceTransactionsCounter, err = mp.meter.Int64Counter(
		BalanceTransactionsTotal,
		metric.WithDescription("Total number of balance transactions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create balance transactions counter: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// SubscribeTo records raffle metrics from events emitted on b
func (mp *MetricsProvider) SubscribeTo(b *bus.Bus) {
	b.Subscribe(domainevents.EventTypeEntered, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(domainevents.EnteredEvent); ok {
			mp.RecordEntry(ctx, ev.Contribution)
		}
	})
	b.Subscribe(domainevents.EventTypeDrawRequested, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(domainevents.DrawRequestedEvent); ok {
			mp.RecordDrawRequested(ctx, ev.Redraw)
		}
	})
	b.Subscribe(domainevents.EventTypeWinnerPicked, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(domainevents.WinnerPickedEvent); ok {
			mp.RecordWinnerPicked(ctx, ev.Amount)
		}
	})
	b.Subscribe(domainevents.EventTypeBalanceChange, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(domainevents.BalanceChangeEvent); ok {
			mp.RecordBalanceTransaction(ctx, string(ev.TransactionType))
		}
	})
}

// RecordEntry records an accepted entry and its contribution to the pool
func (mp *MetricsProvider) RecordEntry(ctx context.Context, contribution int64) {
	if !mp.isEnabled() {
		return
	}

	mp.entriesCounter.Add(ctx, 1)
	mp.poolBalanceGauge.Add(ctx, contribution)
}

// RecordDrawRequested records a randomness request
func (mp *MetricsProvider) RecordDrawRequested(ctx context.Context, redraw bool) {
	if !mp.isEnabled() {
		return
	}

	mp.drawsRequestedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool(LabelRedraw, redraw),
		),
	)
}

// RecordWinnerPicked records a payout and drains the pool gauge
func (mp *MetricsProvider) RecordWinnerPicked(ctx context.Context, amount int64) {
	if !mp.isEnabled() {
		return
	}

	mp.winnersPickedCounter.Add(ctx, 1)
	mp.payoutHist.Record(ctx, amount)
	mp.poolBalanceGauge.Add(ctx, -amount)
}

// RecordBalanceTransaction records a balance transaction
func (mp *MetricsProvider) RecordBalanceTransaction(ctx context.Context, transactionType string) {
	if !mp.isEnabled() {
		return
	}

	mp.balanceTransactionsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelType, transactionType),
		),
	)
}

// RecordNATSMessageReceived records a NATS message being received
func (mp *MetricsProvider) RecordNATSMessageReceived(eventType string) {
	if !mp.isEnabled() {
		return
	}

	mp.natsMessagesReceivedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelEventType, eventType),
		),
	)
}

// RecordNATSMessagePublished records a NATS message being published
func (mp *MetricsProvider) RecordNATSMessagePublished(eventType string) {
	if !mp.isEnabled() {
		return
	}

	mp.natsMessagesPublishedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelEventType, eventType),
		),
	)
}

// isEnabled checks if instruments exist. Exporter "none" initializes without them.
func (mp *MetricsProvider) isEnabled() bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.meter != nil
}

// Global metrics provider instance
var (
	globalMetrics *MetricsProvider
	metricsOnce   sync.Once
)

// InitializeGlobalMetrics initializes the global metrics provider
func InitializeGlobalMetrics(ctx context.Context, cfg *config.Config) error {
	var err error
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsProvider(cfg)
		err = globalMetrics.Initialize(ctx)
	})
	return err
}

// GetMetrics returns the global metrics provider
func GetMetrics() *MetricsProvider {
	return globalMetrics
}

// ShutdownGlobalMetrics shuts down the global metrics provider
func ShutdownGlobalMetrics(ctx context.Context) error {
	if globalMetrics != nil {
		return globalMetrics.Shutdown(ctx)
	}
	return nil
}
