package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/hivekeeper/auth"
	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/keystore"
)

var (
	shellSpectator bool
	shellMetrics   bool
)

var shellCmd = &cobra.Command{
	Use:   "shell [username]",
	Short: "Start an interactive session",
	Long: `Unlocks a stored key (or enters spectator mode) and reads commands from
stdin. The key is dropped after the configured inactivity timeout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			printBanner(out)

			switch {
			case shellSpectator || len(args) == 0:
				if err := a.manager.EnterSpectatorMode(ctx); err != nil {
					return userError(err)
				}
			default:
				if err := unlockStored(ctx, a, args[0]); err != nil {
					return err
				}
			}

			if shellMetrics || a.cfg.Metrics.Enabled {
				srv, err := startMetricsServer(a.cfg.Metrics.Listen, a.registry)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", srv.Addr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.logger.Warn("metrics server shutdown failed", "error", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var in io.Reader = cmd.InOrStdin()
			if lp, ok := a.prompter.(*linePrompter); ok {
				in = lp.in
			}
			return runShell(ctx, a.manager, in, out)
		})
	},
}

// startMetricsServer serves reg on a loopback listener. It refuses
// non-loopback addresses.
func startMetricsServer(addr string, reg *prometheus.Registry) (*http.Server, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics listen address: %w", err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("metrics listen address %q is not loopback", addr)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server failed: %v\n", err)
		}
	}()
	return server, nil
}

const shellHelp = `Commands:
  whoami                      show the session
  users                       list stored users
  pubkey                      show the public posting key
  follow|unfollow|mute <user> update a relationship
  following                   list cached follows
  spectator                   drop the key and browse read-only
  logout                      drop the key
  help                        show this help
  quit                        leave the shell`

// runShell reads commands from in until quit, EOF or ctx is done. Every
// command counts as activity for the inactivity timer.
func runShell(ctx context.Context, m *auth.Manager, in io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := &lockedWriter{w: w}
	updates, unsubscribe := m.Subscribe()
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		reportExpiry(updates, out)
	}()
	defer func() {
		unsubscribe()
		<-reported
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(out)
			return err
		case line = <-lines:
		}

		m.ResetInactivityTimer()
		quit, err := shellCommand(ctx, m, line, out)
		if err != nil {
			fmt.Fprintf(out, "error: %s\n", userError(err))
		}
		if quit {
			return nil
		}
	}
}

// lockedWriter serializes writes from the command loop and reportExpiry.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// reportExpiry prints a notice when an authenticated session ends without
// an explicit command.
func reportExpiry(updates <-chan auth.Snapshot, out io.Writer) {
	var prev auth.Snapshot
	for snap := range updates {
		if prev.IsAuthenticated && !snap.IsAuthenticated && snap.State == auth.StateUnauthenticated {
			fmt.Fprintf(out, "\nSession for @%s ended.\n> ", prev.Username)
		}
		prev = snap
	}
}

// shellCommand runs one line. It reports whether the shell should exit.
func shellCommand(ctx context.Context, m *auth.Manager, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(out, shellHelp)
	case "whoami":
		snap := m.Snapshot()
		switch snap.State {
		case auth.StateAuthenticated:
			fmt.Fprintf(out, "@%s (session %s, since %s)\n", snap.Username, snap.SessionID, snap.StartedAt.Format(time.Kitchen))
		case auth.StateSpectator:
			fmt.Fprintln(out, "spectator (read-only)")
		default:
			fmt.Fprintln(out, "not logged in")
		}
	case "users":
		users := m.StoredUsers()
		if len(users) == 0 {
			fmt.Fprintln(out, "No stored users.")
		}
		for _, u := range users {
			fmt.Fprintln(out, u)
		}
	case "pubkey":
		return false, m.WithSigningKey(func(_, wif string) error {
			key, err := hive.ParseWIF(wif)
			if err != nil {
				return err
			}
			defer key.Zero()
			fmt.Fprintln(out, key.PublicKey())
			return nil
		})
	case "follow", "unfollow", "mute":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <user>", name)
		}
		rel, err := hive.ParseRelationship(name)
		if err != nil {
			return false, err
		}
		target, err := keystore.Sanitize(strings.TrimPrefix(args[0], "@"))
		if err != nil {
			return false, err
		}
		if err := m.UpdateUserRelationship(ctx, target, rel); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s @%s: done\n", name, target)
	case "following":
		for _, u := range m.Following() {
			fmt.Fprintln(out, u)
		}
	case "spectator":
		return false, m.EnterSpectatorMode(ctx)
	case "logout":
		if err := m.Logout(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Logged out.")
	default:
		return false, fmt.Errorf("unknown command %q (try help)", name)
	}
	return false, nil
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().BoolVar(&shellSpectator, "spectator", false, "Browse without unlocking a key")
	shellCmd.Flags().BoolVar(&shellMetrics, "metrics", false, "Serve prometheus metrics on the configured loopback address")
}
