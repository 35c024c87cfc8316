package capability

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/SidGoyal2014/gah-final-submission/internal/capability"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)
