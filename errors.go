package coachauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned when an operation needs credentials and none are stored
	ErrNotLoggedIn = errors.New("coachauth: not logged in")

	// ErrIncompleteCredentials is returned when a credential pair is missing one of its tokens
	ErrIncompleteCredentials = errors.New("coachauth: credential pair must carry both access and refresh tokens")

	// ErrInvalidBaseURL is returned when the backend base URL is missing or malformed
	ErrInvalidBaseURL = errors.New("coachauth: invalid API base URL")

	// ErrPreflightAbort matches every *PreflightAbortError via errors.Is
	ErrPreflightAbort = errors.New("coachauth: request aborted before sending")
)

// LogoutReason says why a session was ended
type LogoutReason string

const (
	ReasonUser          LogoutReason = "user"
	ReasonTokenExpired  LogoutReason = "token_expired"
	ReasonRefreshFailed LogoutReason = "refresh_failed"
	ReasonUnauthorized  LogoutReason = "unauthorized"
)

// DecodeError is reported when a token cannot be decoded into claims
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("coachauth: decode token: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RefreshError is returned by a Refresher when the refresh exchange fails.
// StatusCode is zero for network failures.
type RefreshError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RefreshError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("coachauth: refresh failed: HTTP %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("coachauth: refresh failed: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("coachauth: refresh failed: %v", e.Err)
	}
	return "coachauth: refresh failed"
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// PreflightAbortError is returned by the transport when it refuses to send a request
// because the session could not be brought into a usable state.
type PreflightAbortError struct {
	Method string
	URL    string
	Reason LogoutReason
	Err    error
}

func (e *PreflightAbortError) Error() string {
	msg := fmt.Sprintf("coachauth: %s %s not sent: %s", e.Method, e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreflightAbortError) Unwrap() error {
	return e.Err
}

func (e *PreflightAbortError) Is(target error) bool {
	return target == ErrPreflightAbort
}

// APIError is a non-2xx response from one of the client's own calls (login, password reset)
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("coachauth: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("coachauth: HTTP %d", e.StatusCode)
}

// apiErrorBody is the error shape the backend uses
type apiErrorBody struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (b apiErrorBody) text() string {
	if b.Error != "" {
		return b.Error
	}
	return b.Message
}
