package http

import (
	"net/http"
	"slices"
	"strings"
)

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method string
	Path   string
}

// CollectRoutes returns the registered routes sorted by path then method.
func CollectRoutes(router Router) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string, _ http.Handler) error {
		routes = append(routes, RouteInfo{Method: method, Path: strings.TrimSuffix(path, "/")})
		return nil
	})
	slices.SortFunc(routes, func(a, b RouteInfo) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	return routes
}
