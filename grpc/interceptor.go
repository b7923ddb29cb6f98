package grpc

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/coachauth"
)

// InterceptorConfig configures the client interceptors.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Session supplies and refreshes credentials. Required.
	Session *coachauth.Session

	// LoginMethods are exempt from the gate, and their Unauthenticated errors
	// do not end the session. Keys are full method names like "/package.Service/Method".
	LoginMethods map[string]bool

	// RefreshMethods are exempt from the gate.
	RefreshMethods map[string]bool
}

// NewInterceptorConfig creates a config for session with no exempt methods.
func NewInterceptorConfig(session *coachauth.Session) *InterceptorConfig {
	return &InterceptorConfig{
		Config:         DefaultConfig(),
		Session:        session,
		LoginMethods:   make(map[string]bool),
		RefreshMethods: make(map[string]bool),
	}
}

// WithLoginMethods marks methods as login calls
func (c *InterceptorConfig) WithLoginMethods(methods ...string) *InterceptorConfig {
	for _, m := range methods {
		c.LoginMethods[m] = true
	}
	return c
}

// WithRefreshMethods marks methods as refresh calls
func (c *InterceptorConfig) WithRefreshMethods(methods ...string) *InterceptorConfig {
	for _, m := range methods {
		c.RefreshMethods[m] = true
	}
	return c
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.LoginMethods == nil {
		c.LoginMethods = make(map[string]bool)
	}
	if c.RefreshMethods == nil {
		c.RefreshMethods = make(map[string]bool)
	}
}

func (c *InterceptorConfig) classify(ctx context.Context, method string) coachauth.Route {
	if r, ok := coachauth.RouteFromContext(ctx); ok {
		return r
	}
	switch {
	case c.LoginMethods[method]:
		return coachauth.RouteLogin
	case c.RefreshMethods[method]:
		return coachauth.RouteRefresh
	}
	return coachauth.RouteAuthenticated
}

// authorize runs the outbound gate and returns ctx carrying the credentials
func (c *InterceptorConfig) authorize(ctx context.Context, method string, route coachauth.Route) (context.Context, error) {
	var pair *coachauth.CredentialPair
	if route.Exempt() {
		pair = c.Session.Credentials()
	} else {
		var err error
		pair, err = c.Session.Authorize(ctx)
		if err != nil {
			var abort *coachauth.PreflightAbortError
			if errors.As(err, &abort) {
				abort.Method = "GRPC"
				abort.URL = method
			}
			return nil, err
		}
	}
	return CredentialsToOutgoingContext(ctx, pair, c.Config), nil
}

// checkInbound ends the session when the server rejects the credentials
func (c *InterceptorConfig) checkInbound(route coachauth.Route, err error) {
	if err == nil || route == coachauth.RouteLogin {
		return
	}
	if status.Code(err) == codes.Unauthenticated {
		c.Session.ForceLogout(coachauth.ReasonUnauthorized, err)
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that attaches
// session credentials and ends the session on Unauthenticated responses.
func UnaryClientInterceptor(config *InterceptorConfig) grpc.UnaryClientInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		route := config.classify(ctx, method)
		ctx, err := config.authorize(ctx, method, route)
		if err != nil {
			return err
		}

		err = invoker(ctx, method, req, reply, cc, opts...)
		config.checkInbound(route, err)
		return err
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor with the same behavior.
// Unauthenticated errors are detected when the stream is opened and on every receive.
func StreamClientInterceptor(config *InterceptorConfig) grpc.StreamClientInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		route := config.classify(ctx, method)
		ctx, err := config.authorize(ctx, method, route)
		if err != nil {
			return nil, err
		}

		stream, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			config.checkInbound(route, err)
			return nil, err
		}
		return &authClientStream{ClientStream: stream, config: config, route: route}, nil
	}
}

type authClientStream struct {
	grpc.ClientStream
	config *InterceptorConfig
	route  coachauth.Route
	once   sync.Once
}

func (s *authClientStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if err != nil && status.Code(err) == codes.Unauthenticated {
		s.once.Do(func() { s.config.checkInbound(s.route, err) })
	}
	return err
}
