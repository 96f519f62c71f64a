package server

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-bridge/internal/server"

var logger = otelslog.NewLogger(scopeName)
