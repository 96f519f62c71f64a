package tools

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-bridge/core/tools"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	invocationDuration, _ = meter.Float64Histogram("tool.invocation.duration",
		metric.WithDescription("Duration of tool handler executions"),
		metric.WithUnit("s"),
	)
)
