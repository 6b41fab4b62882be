package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	pipelineRuns        metric.Int64Counter
	usageDebits         metric.Int64Counter
	insufficientBalance metric.Int64Counter
	aiInvocations       metric.Int64Counter
	actionsExecuted     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "charla"
	}
	meter := provider.Meter(name)

	pipelineRuns, err := meter.Int64Counter("charla_pipeline_runs_total")
	if err != nil {
		return nil, err
	}
	usageDebits, err := meter.Int64Counter("charla_usage_debits_total")
	if err != nil {
		return nil, err
	}
	insufficientBalance, err := meter.Int64Counter("charla_insufficient_balance_total")
	if err != nil {
		return nil, err
	}
	aiInvocations, err := meter.Int64Counter("charla_ai_invocations_total")
	if err != nil {
		return nil, err
	}
	actionsExecuted, err := meter.Int64Counter("charla_actions_executed_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		pipelineRuns:        pipelineRuns,
		usageDebits:         usageDebits,
		insufficientBalance: insufficientBalance,
		aiInvocations:       aiInvocations,
		actionsExecuted:     actionsExecuted,
	}, nil
}

func (m *Metrics) RecordPipelineRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.pipelineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordUsageDebit(ctx context.Context, usageType string) {
	if m == nil {
		return
	}
	m.usageDebits.Add(ctx, 1, metric.WithAttributes(attribute.String("usage_type", usageType)))
}

func (m *Metrics) RecordInsufficientBalance(ctx context.Context, usageType string) {
	if m == nil {
		return
	}
	m.insufficientBalance.Add(ctx, 1, metric.WithAttributes(attribute.String("usage_type", usageType)))
}

func (m *Metrics) RecordAIInvocation(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.aiInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordActionExecution(ctx context.Context, actionType, outcome string) {
	if m == nil {
		return
	}
	m.actionsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("outcome", outcome),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}
