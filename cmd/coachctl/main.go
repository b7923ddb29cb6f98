// Command coachctl signs in to the coaching backend and makes authenticated calls,
// keeping the session in the configured storage between runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panyam/coachauth"
	"github.com/panyam/coachauth/config"
	"github.com/panyam/coachauth/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := os.Args[1]; cmd {
	case "login":
		err = runLogin(ctx, os.Args[2:])
	case "logout":
		err = runLogout(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "whoami":
		err = runWhoami(ctx, os.Args[2:])
	case "get":
		err = runGet(ctx, os.Args[2:])
	case "forgot-password":
		err = runForgotPassword(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("coachctl - coaching backend session tool")
	fmt.Println("\nUsage:")
	fmt.Println("  coachctl login -email <email> [-password <password>]")
	fmt.Println("  coachctl logout")
	fmt.Println("  coachctl status")
	fmt.Println("  coachctl whoami")
	fmt.Println("  coachctl get <path>")
	fmt.Println("  coachctl forgot-password -email <email>")
	fmt.Println("  coachctl watch")
	fmt.Println("\nEvery command accepts -config <path>. Without it CONFIG_PATH, ./coachauth.yaml")
	fmt.Println("and COACH_* environment variables are used.")
}

// app is what every command needs: the loaded config and a client over the configured storage
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *coachauth.AuthClient
	closers []io.Closer
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close storage", "error", err)
		}
	}
}

func newApp(ctx context.Context, configPath string, opts ...coachauth.ClientOption) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger()
	a := &app{cfg: cfg, logger: logger}

	storage, closer, err := stores.Open(ctx, cfg.Storage, cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.closers = append(a.closers, closer)

	base := []coachauth.ClientOption{
		coachauth.WithSessionConfig(cfg.SessionConfig()),
		coachauth.WithAPIPrefix(cfg.API.Prefix),
		coachauth.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		coachauth.WithLogger(logger),
		coachauth.WithOnForcedLogout(func(ev coachauth.ForcedLogout) {
			fmt.Fprintf(os.Stderr, "Session ended (%s). Sign in again: coachctl login\n", ev.Reason)
		}),
	}
	client, err := coachauth.NewAuthClient(cfg.API.BaseURL, storage, append(base, opts...)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client
	return a, nil
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the config file")
	return fs, configPath
}

func runLogin(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("login")
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password (default: COACH_PASSWORD env)")
	fs.Parse(args)

	if *email == "" {
		return errors.New("-email is required")
	}
	if *password == "" {
		*password = os.Getenv("COACH_PASSWORD")
	}
	if *password == "" {
		return errors.New("-password or COACH_PASSWORD is required")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		var apiErr *coachauth.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("login rejected: %s", apiErr.Message)
		}
		return err
	}
	if user != nil {
		fmt.Printf("Signed in as %s (%s)\n", user.Email, user.Role)
	} else {
		fmt.Println("Signed in")
	}
	return nil
}

func runLogout(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("logout")
	fs.Parse(args)

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.Logout(); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("status")
	asJSON := fs.Bool("json", false, "Print the status as JSON")
	fs.Parse(args)

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.client.Session().Status()
	if *asJSON {
		return printJSON(map[string]any{
			"state":        st.State.String(),
			"user":         st.User,
			"expiresAt":    st.ExpiresAt,
			"expiringSoon": st.ExpiringSoon,
		})
	}

	fmt.Printf("Backend:  %s\n", a.client.BaseURL())
	fmt.Printf("State:    %s\n", st.State)
	if st.State != coachauth.StateLoggedIn {
		return nil
	}
	if st.User != nil {
		fmt.Printf("User:     %s (%s, %s)\n", st.User.Email, st.User.Name, st.User.Role)
	}
	if !st.ExpiresAt.IsZero() {
		fmt.Printf("Expires:  %s (in %s)\n", st.ExpiresAt.Format(time.RFC3339), time.Until(st.ExpiresAt).Round(time.Second))
	}
	if st.ExpiringSoon {
		fmt.Println("Access token expires soon and will be refreshed on the next call")
	}
	return nil
}

func runWhoami(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("whoami")
	fs.Parse(args)

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.Session().IsAuthenticated() {
		return coachauth.ErrNotLoggedIn
	}
	var user coachauth.UserProfile
	if err := a.client.GetJSON(ctx, "/users/me", &user); err != nil {
		return err
	}
	return printJSON(user)
}

func runGet(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("get")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: coachctl get <path>")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	var out json.RawMessage
	if err := a.client.GetJSON(ctx, fs.Arg(0), &out); err != nil {
		if errors.Is(err, coachauth.ErrPreflightAbort) {
			return fmt.Errorf("not sent, sign in again: %w", err)
		}
		return err
	}
	return printJSON(out)
}

func runForgotPassword(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("forgot-password")
	email := fs.String("email", "", "Account email")
	fs.Parse(args)
	if *email == "" {
		return errors.New("-email is required")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.RequestPasswordReset(ctx, *email); err != nil {
		return err
	}
	fmt.Println("If the account exists, a reset link has been sent")
	return nil
}

// runWatch keeps the session alive in the foreground until interrupted or logged out
func runWatch(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("watch")
	fs.Parse(args)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := coachauth.NewMetrics(reg)

	ended := make(chan coachauth.ForcedLogout, 1)
	a, err := newApp(ctx, *configPath,
		coachauth.WithMetrics(metrics),
		coachauth.WithOnForcedLogout(func(ev coachauth.ForcedLogout) {
			select {
			case ended <- ev:
			default:
			}
		}))
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.Session().IsAuthenticated() {
		return coachauth.ErrNotLoggedIn
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", "addr", addr)
	}

	a.client.Start(ctx)
	a.logger.Info("watching session", "interval", a.client.Session().Config().WatchdogInterval)

	select {
	case <-ctx.Done():
		fmt.Println("Stopped")
		return nil
	case ev := <-ended:
		return fmt.Errorf("session ended: %s", ev.Reason)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
