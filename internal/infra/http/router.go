package http

import (
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router is the routing surface the route registrations depend on.
type Router interface {
	// Route-level middleware wraps the handler; the first one is outermost.
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)
	POST(path string, handler http.HandlerFunc, middlewares ...Middleware)
	DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Group mounts fn under prefix with group middleware applied.
	Group(prefix string, fn func(Router), middlewares ...Middleware)

	// Use adds middleware to every route registered afterwards.
	Use(middlewares ...Middleware)

	// With returns a Router whose routes get the given middleware.
	With(middlewares ...Middleware) Router

	Handler() http.Handler

	// Walk visits every registered route.
	Walk(fn func(method, path string, handler http.Handler) error) error
}

// Chain applies middlewares to a handler. The first middleware is the
// outermost.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
