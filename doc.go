// Package coachauth manages the signed-in session of a client of the coaching backend.
//
// It keeps the access/refresh token pair issued at login, attaches it to outgoing
// requests, refreshes the access token shortly before it expires and ends the session
// when the backend rejects it.
//
// # Architecture
//
// Inspector: decodes access tokens (without verifying signatures) and answers
// "is this token still valid" and "does it expire soon".
//
// CredentialStore: persists the pair and the user profile in a key-value Storage.
// Durable backends live under the stores package.
//
// Session: the single owner of the signed-in state. It restores itself from storage,
// runs refreshes one at a time and runs a background watchdog.
//
// Transport: an http.RoundTripper that gates every request on the session and reacts
// to 401 responses. The grpc package provides the same gate for gRPC clients.
//
// # Basic Usage
//
//	import (
//	    "github.com/panyam/coachauth"
//	    "github.com/panyam/coachauth/stores/fs"
//	)
//
//	storage, err := fs.NewStorage("", "https://api.example.com")
//	if err != nil {
//	    return err
//	}
//
//	client, err := coachauth.NewAuthClient("https://api.example.com", storage,
//	    coachauth.WithOnForcedLogout(func(ev coachauth.ForcedLogout) {
//	        log.Printf("signed out (%s), continue at %s", ev.Reason, ev.RedirectTo)
//	    }))
//	if err != nil {
//	    return err
//	}
//	client.Start(ctx)
//	defer client.Close()
//
//	if _, err := client.Login(ctx, "coach@example.com", "secret"); err != nil {
//	    return err
//	}
//
//	req, _ := client.NewRequest(ctx, http.MethodGet, "/clients", nil)
//	resp, err := client.Do(req)
//
// A request that cannot be authorized is not sent. The error matches
// coachauth.ErrPreflightAbort:
//
//	if errors.Is(err, coachauth.ErrPreflightAbort) {
//	    // the session has ended, sign in again
//	}
//
// # Refresh behavior
//
// A token expiring within the refresh threshold (5 minutes by default) is refreshed
// before the request goes out. Concurrent requests share a single refresh call. If the
// refresh fails the session is logged out once and every waiting request is aborted.
// Set SessionConfig.StaleWhileRefreshing to let requests proceed with the current
// token while a refresh is running instead of waiting for it.
package coachauth
