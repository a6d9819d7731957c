/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// If set, spans are written (as JSON) to the named file.
const DBGP_BRIDGE_TRACE_FILE = "DBGP_BRIDGE_TRACE_FILE"

func newTraceExporter() (sdktrace.SpanExporter, error) {
	tracePath, found := os.LookupEnv(DBGP_BRIDGE_TRACE_FILE)
	if !found || tracePath == "" {
		return discardExporter{}, nil
	}

	if dirErr := os.MkdirAll(filepath.Dir(tracePath), 0o700); dirErr != nil {
		return nil, fmt.Errorf("failed to create the folder for trace file '%s': %w", tracePath, dirErr)
	}
	traceFile, openErr := os.OpenFile(tracePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open trace file '%s': %w", tracePath, openErr)
	}

	return stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(traceFile))
}

// Metrics are pulled by the Prometheus handler, so the reader is the Prometheus exporter itself.
func newMetricReader(registry *prometheus.Registry) (sdkmetric.Reader, error) {
	return otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace("dbgp_bridge"),
	)
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (discardExporter) Shutdown(context.Context) error {
	return nil
}
