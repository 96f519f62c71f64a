package model

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-bridge/core/model"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	droppedAudioChunks, _ = meter.Int64Counter("model.submit.audio_dropped",
		metric.WithDescription("Audio chunks dropped because the submit queue was full"),
	)
	discardedOutputs, _ = meter.Int64Counter("model.output.discarded",
		metric.WithDescription("Output events discarded because their turn was interrupted"),
	)
)
