// Copyright 2026 fanjia1024
// OpenTelemetry tracer provider and span helpers

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	// 创建 OTLP exporter
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	// 创建 resource
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	// 创建 tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// TracerName 本服务 span 的 instrumentation 名称
const TracerName = "dispatch-ledger"

// StartVerifySpan 开始派遣核验 span
func StartVerifySpan(ctx context.Context, dispatchID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "dispatch.verify",
		trace.WithAttributes(
			attribute.String("dispatch.id", dispatchID),
		),
	)
	return ctx, span
}

// StartLedgerWriteSpan 开始账本写入 span
func StartLedgerWriteSpan(ctx context.Context, network string, dispatchID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "ledger.record",
		trace.WithAttributes(
			attribute.String("ledger.network", network),
			attribute.String("dispatch.id", dispatchID),
		),
	)
	return ctx, span
}

// StartAnchorRetrySpan 开始锚定重试 span
func StartAnchorRetrySpan(ctx context.Context, dispatchID string, attempt int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "dispatch.anchor_retry",
		trace.WithAttributes(
			attribute.String("dispatch.id", dispatchID),
			attribute.Int("anchor.attempt", attempt),
		),
	)
	return ctx, span
}

// EndSpan 结束 span；err 非空时记录错误，desc 为空则使用 err.Error()
func EndSpan(span trace.Span, err error, desc string) {
	if err != nil {
		if desc == "" {
			desc = err.Error()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, desc)
	}
	span.End()
}
