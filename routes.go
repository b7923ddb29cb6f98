package coachauth

import (
	"context"
	"net/http"
	"path"
	"strings"
)

// Route classifies an outgoing call for the authorization gate
type Route int

const (
	// RouteAuthenticated is any ordinary API call. It goes through the full gate.
	RouteAuthenticated Route = iota

	// RouteLogin is the login call. Exempt from the gate, and its 401s do not end the session.
	RouteLogin

	// RouteRefresh is the refresh call. Exempt from the gate so a refresh never triggers a refresh.
	RouteRefresh
)

// Exempt returns true for routes that skip the validity gate
func (r Route) Exempt() bool {
	return r == RouteLogin || r == RouteRefresh
}

func (r Route) String() string {
	switch r {
	case RouteLogin:
		return "login"
	case RouteRefresh:
		return "refresh"
	}
	return "authenticated"
}

type routeContextKey struct{}

// WithRoute tags a request context with an explicit route.
// A tagged route always wins over path based classification.
func WithRoute(ctx context.Context, route Route) context.Context {
	return context.WithValue(ctx, routeContextKey{}, route)
}

// RouteFromContext returns the route tagged on ctx, if any
func RouteFromContext(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeContextKey{}).(Route)
	return r, ok
}

// RouteClassifier decides which route a request belongs to
type RouteClassifier interface {
	Classify(req *http.Request) Route
}

// PathClassifier matches request paths exactly against the login and refresh paths
type PathClassifier struct {
	LoginPath   string
	RefreshPath string
}

// Classify implements RouteClassifier
func (c *PathClassifier) Classify(req *http.Request) Route {
	if r, ok := RouteFromContext(req.Context()); ok {
		return r
	}
	p := cleanPath(req.URL.Path)
	switch {
	case c.LoginPath != "" && p == cleanPath(c.LoginPath):
		return RouteLogin
	case c.RefreshPath != "" && p == cleanPath(c.RefreshPath):
		return RouteRefresh
	}
	return RouteAuthenticated
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// joinPath joins an API prefix and an endpoint path
func joinPath(prefix, endpoint string) string {
	return cleanPath(strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(endpoint, "/"))
}
