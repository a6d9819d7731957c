// Copyright (c) Microsoft Corporation. All rights reserved.

package telemetry

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const suppressIfSuccessful = "suppressIfSuccessful"

// suppressIfSuccessfulSpanProcessor drops spans carrying the suppressIfSuccessful attribute unless they failed.
type suppressIfSuccessfulSpanProcessor struct {
	inner sdktrace.SpanProcessor
}

func NewSuppressIfSuccessfulSpanProcessor(inner sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	return &suppressIfSuccessfulSpanProcessor{inner: inner}
}

func (p *suppressIfSuccessfulSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	p.inner.OnStart(ctx, s)
}

func (p *suppressIfSuccessfulSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	suppress := slices.ContainsFunc(s.Attributes(), func(attr attribute.KeyValue) bool {
		return attr.Key == suppressIfSuccessful && attr.Valid() && attr.Value.AsBool()
	})

	if !suppress || s.Status().Code == codes.Error {
		p.inner.OnEnd(s)
	}
}

func (p *suppressIfSuccessfulSpanProcessor) Shutdown(ctx context.Context) error {
	return p.inner.Shutdown(ctx)
}

func (p *suppressIfSuccessfulSpanProcessor) ForceFlush(ctx context.Context) error {
	return p.inner.ForceFlush(ctx)
}
