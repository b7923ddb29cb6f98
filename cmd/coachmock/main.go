// Command coachmock serves a local stand-in for the coaching backend's auth API,
// for trying coachctl and the client library without the real service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panyam/coachauth/internal/mockapi"
)

func main() {
	addr := flag.String("addr", ":8081", "Listen address")
	accessTTL := flag.Duration("access-ttl", mockapi.DefaultAccessTokenExpiry, "Access token lifetime")
	refreshDelay := flag.Duration("refresh-delay", 0, "Delay before answering refresh calls")
	password := flag.String("password", "password", "Password of the demo accounts")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	api := mockapi.New()
	api.AccessTokenExpiry = *accessTTL
	api.Logger = logger
	api.SetRefreshDelay(*refreshDelay)

	demo := []struct{ email, name, role string }{
		{"admin@example.com", "Admin", "ADMIN"},
		{"coach@example.com", "Casey Coach", "COACH"},
		{"member@example.com", "Morgan Member", "MEMBER"},
	}
	for _, u := range demo {
		user, err := api.AddUser(u.email, *password, u.name, u.role)
		if err != nil {
			logger.Error("failed to add demo user", "email", u.email, "error", err)
			os.Exit(1)
		}
		if u.role == "COACH" {
			api.AddClient("Alex Runner", user.ID)
			api.AddClient("Sam Lifter", user.ID)
		}
	}

	srv := &http.Server{Addr: *addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("mock backend listening", "addr", *addr, "prefix", api.Prefix, "access_ttl", *accessTTL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
