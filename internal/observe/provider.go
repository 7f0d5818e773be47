package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Resource attribute keys describing which backends this instance talks to.
const (
	AttrLLMProvider          = attribute.Key("dizai.provider.llm")
	AttrSTTProvider          = attribute.Key("dizai.provider.stt")
	AttrConversationProvider = attribute.Key("dizai.provider.conversation")
	AttrAssistantConfigured  = attribute.Key("dizai.assistant.configured")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "dizai".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// LLMProvider, STTProvider and ConversationProvider name the configured
	// backends. Empty names are omitted from the resource.
	LLMProvider          string
	STTProvider          string
	ConversationProvider string

	// AssistantConfigured reports whether exercise generation is possible.
	AssistantConfigured bool

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// NewResource describes this DizAí instance: service identity plus the
// provider backends it was started with.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dizai"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		AttrAssistantConfigured.Bool(cfg.AssistantConfigured),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for key, name := range map[attribute.Key]string{
		AttrLLMProvider:          cfg.LLMProvider,
		AttrSTTProvider:          cfg.STTProvider,
		AttrConversationProvider: cfg.ConversationProvider,
	} {
		if name != "" {
			attrs = append(attrs, key.String(name))
		}
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// InitProvider registers global meter and tracer providers built on
// [NewResource]. Metrics are exported through the Prometheus bridge so the
// /metrics handler serves them; spans go to cfg.TraceExporter when set.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
