/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TelemetrySystem bundles the process-wide trace and metric providers.
// Metrics are exposed in Prometheus text format through MetricsHandler().
type TelemetrySystem struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Registry       *prometheus.Registry
	spanExporter   sdktrace.SpanExporter
}

var (
	telemetrySystem     TelemetrySystem
	telemetrySystemOnce sync.Once
)

// GetTelemetrySystem returns the process-wide telemetry system, creating it on first use.
func GetTelemetrySystem() TelemetrySystem {
	telemetrySystemOnce.Do(func() {
		telemetrySystem = newTelemetrySystem()
	})
	return telemetrySystem
}

func newTelemetrySystem() TelemetrySystem {
	spanExp, err := newTraceExporter()
	if err != nil {
		panic(err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewSuppressIfSuccessfulSpanProcessor(sdktrace.NewBatchSpanProcessor(spanExp))),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricReader, err := newMetricReader(registry)
	if err != nil {
		panic(err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return TelemetrySystem{
		TracerProvider: tp,
		MeterProvider:  mp,
		Registry:       registry,
		spanExporter:   spanExp,
	}
}

// MetricsHandler serves the registry in Prometheus exposition format.
func (ts TelemetrySystem) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(ts.Registry, promhttp.HandlerOpts{})
}

func (ts TelemetrySystem) Shutdown(ctx context.Context) error {
	return errors.Join(
		ts.TracerProvider.Shutdown(ctx),
		ts.MeterProvider.Shutdown(ctx),
		ts.spanExporter.Shutdown(ctx),
	)
}

func CallWithTelemetry[TResult any](tracer trace.Tracer, spanName string, parentCtx context.Context, fn func(ctx context.Context) (TResult, error), attrs ...attribute.KeyValue) (TResult, error) {
	spanCtx, span := tracer.Start(parentCtx, spanName, trace.WithAttributes(attrs...))
	defer span.End()

	result, err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func CallWithTelemetryNoResult(tracer trace.Tracer, spanName string, parentCtx context.Context, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	spanCtx, span := tracer.Start(parentCtx, spanName, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// SuppressIfSuccessful marks a span to be exported only if it ends with an error.
// Used for high-volume spans such as individual engine commands.
func SuppressIfSuccessful() attribute.KeyValue {
	return attribute.Bool(suppressIfSuccessful, true)
}
