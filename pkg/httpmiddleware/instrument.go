package httpmiddleware

import (
	"fmt"
	"net/http"

	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// Instrument returns a middleware that wraps the handler with otelhttp,
// naming spans after the matched route template.
func Instrument(serviceName string, find RouteFinder, m *app.Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "",
			otelhttp.WithPropagators(m.TextMapPropagator()),
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
			otelhttp.WithServerName(serviceName),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				route, ok := find(r)
				if !ok {
					return operation
				}
				return fmt.Sprintf("%s %s", r.Method, route)
			}),
		)
	}
}

// Labeler returns a middleware that adds the matched route to the otelhttp
// metric labels, so request metrics are grouped by route template instead of
// raw paths.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := find(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			labeler, _ := otelhttp.LabelerFromContext(r.Context())
			labeler.Add(attribute.String("http.route", route))
			next.ServeHTTP(w, r)
		})
	}
}
