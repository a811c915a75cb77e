package fetcher

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/WachasWps/AI-Avatar-Chat/internal/fetcher"

var tracer = otel.Tracer(scopeName)
