// Package httpmiddleware provides the HTTP middleware stack shared by the
// API server: panic recovery, CORS, rate limiting, request IDs, logging,
// and OpenTelemetry instrumentation.
package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is a composable http.Handler wrapper.
type Middleware func(http.Handler) http.Handler

// Wrap composes the middlewares around h. The first middleware in the list
// becomes the outermost wrapper and therefore runs first.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder resolves the route template that matched a request, e.g.
// "/api/order/{orderId}" for "/api/order/42".
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder builds a RouteFinder backed by the chi router's own
// matcher, so route templates are available before the request reaches the
// router.
func MakeRouteFinder(router chi.Routes) RouteFinder {
	return func(r *http.Request) (string, bool) {
		rctx := chi.NewRouteContext()
		if !router.Match(rctx, r.Method, r.URL.Path) {
			return "", false
		}
		pattern := rctx.RoutePattern()
		return pattern, pattern != ""
	}
}
