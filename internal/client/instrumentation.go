package client

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-bridge/internal/client"

var logger = otelslog.NewLogger(scopeName)
