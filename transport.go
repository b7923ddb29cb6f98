package coachauth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is attached to every outgoing request that does not carry one
const RequestIDHeader = "X-Request-Id"

// Transport is an http.RoundTripper that authorizes outgoing requests against a Session
// and ends the session when the backend answers 401.
type Transport struct {
	// Base sends the request. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	Session *Session

	// Classifier decides whether a request is a login, refresh or ordinary call.
	Classifier RouteClassifier

	Logger *slog.Logger
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Transport) classify(req *http.Request) Route {
	if t.Classifier != nil {
		return t.Classifier.Classify(req)
	}
	if r, ok := RouteFromContext(req.Context()); ok {
		return r
	}
	return RouteAuthenticated
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	route := t.classify(req)

	// Never mutate the caller's request
	req = req.Clone(req.Context())
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	var pair *CredentialPair
	if route.Exempt() {
		pair = t.Session.Credentials()
	} else {
		var err error
		pair, err = t.Session.Authorize(req.Context())
		if err != nil {
			if req.Body != nil {
				req.Body.Close()
			}
			var abort *PreflightAbortError
			if errors.As(err, &abort) {
				abort.Method = req.Method
				abort.URL = req.URL.Redacted()
				t.logger().Warn("request aborted before sending",
					"method", req.Method, "path", req.URL.Path, "reason", abort.Reason,
					"request_id", req.Header.Get(RequestIDHeader))
			}
			return nil, err
		}
	}
	attachCredentials(req, pair)

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && route != RouteLogin {
		t.logger().Warn("backend rejected credentials",
			"method", req.Method, "path", req.URL.Path, "route", route.String(),
			"request_id", req.Header.Get(RequestIDHeader))
		t.Session.ForceLogout(ReasonUnauthorized, nil)
	}
	return resp, nil
}

// attachCredentials sets the bearer token and the legacy refresh token header.
// A refresh header set by the caller is left alone.
func attachCredentials(req *http.Request, pair *CredentialPair) {
	if pair == nil {
		return
	}
	if pair.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	if pair.RefreshToken != "" && req.Header.Get(RefreshTokenHeader) == "" {
		req.Header.Set(RefreshTokenHeader, pair.RefreshToken)
	}
}
