package upstream

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/SidGoyal2014/gah-final-submission/internal/upstream"

var (
	tracer = otel.Tracer(scopeName)
)
