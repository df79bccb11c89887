package metrics

import "go.uber.org/fx"

func newHandler() Handler {
	return NewMetricsHandler(HandlerOptions{})
}

var Module = fx.Provide(
	newMetricsProvider,
	newHandler,
)
