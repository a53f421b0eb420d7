package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/al-bashkir/session-rendezvous/internal/auth"
	"github.com/al-bashkir/session-rendezvous/internal/config"
	"github.com/al-bashkir/session-rendezvous/internal/daemon"
	"github.com/al-bashkir/session-rendezvous/internal/hostapp"
	"github.com/al-bashkir/session-rendezvous/internal/ipc"
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// sessions command flags
var (
	listKeyword string
	listJSON    bool
)

// Exit codes
const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitConfig    = 3
	ExitHandshake = 4 // host/find did not converge
)

// leaveTimeout bounds the session release after a shutdown signal.
const leaveTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "Session rendezvous for multiplayer hosts and clients",
	Long: `Authenticate a local player, advertise or discover a game session,
and converge on exactly one peer connection.

This binary operates in several modes:
  - serve:    Run the session directory daemon
  - host:     Log in, publish a session and open the hosted level
  - find:     Log in, find a session with the configured keyword and travel to it
  - sessions: List the sessions the directory currently advertises`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session directory daemon",
	Long: `Start the daemon that keeps the session directory.

The daemon:
  - Listens on a Unix socket for create, find, join and destroy requests
  - Expires sessions whose owner stopped refreshing them
  - Serves /health and /sessions over HTTP for monitoring

This mode is typically run as a systemd service.`,
	RunE: runServe,
}

// overrideExitCode is set by subcommands (host, find, check-config) so
// main() can call os.Exit() after cobra finishes. -1 means "use default".
var overrideExitCode = -1

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host a session",
	Long: `Log the local user in, create the configured session slot and open
the hosted level in listen mode. The session stays advertised until the
process receives SIGINT or SIGTERM, then it is destroyed.

Exit codes:
  0 = Session hosted and released
  1 = Runtime error
  3 = Configuration or credentials error
  4 = Handshake failed or timed out`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideExitCode = runHandshake(hostapp.ModeHost)
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find and join a session",
	Long: `Log the local user in, search the directory for sessions advertising
the configured keyword and join the first one. On success the connect
address is printed and, when client.travel_file is set, written there.
Membership is held until SIGINT or SIGTERM.

Exit codes: see "host".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideExitCode = runHandshake(hostapp.ModeFind)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List advertised sessions",
	Long: `Query the directory daemon over its Unix socket and print the sessions
it advertises. Host addresses are never listed.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting anything.

Checks for:
  - Valid YAML syntax
  - Session, directory and listener settings
  - Identity provider settings used by host and find

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/session-rendezvous/config.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	sessionsCmd.Flags().StringVar(&listKeyword, "keyword", "", "Only list sessions advertising this keyword")
	sessionsCmd.Flags().BoolVar(&listJSON, "json", false, "Print sessions as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// Applied outside RunE so deferred functions run.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads the config file and applies the log flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	config.SetupLogging(&cfg.Log)
	return cfg, nil
}

// runServe starts the daemon
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("starting session directory daemon",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	return daemon.New(cfg, version).Run(context.Background())
}

// runHandshake runs host or find and returns the process exit code.
func runHandshake(mode hostapp.Mode) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return ExitConfig
	}
	if err := cfg.ValidateIdentity(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfig
	}

	creds, err := auth.Load(cfg.Client.CredentialsFile)
	if err != nil {
		if !errors.Is(err, auth.ErrNoCredentials) || cfg.Session.RequireLogin {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitConfig
		}
		slog.Info("no credentials configured, continuing as guest")
		creds = rendezvous.Credentials{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := hostapp.NewBackend(ctx, &cfg.Identity)
	if err != nil {
		slog.Error("failed to create identity backend", "error", err)
		return ExitError
	}

	transport := ipc.NewClient(cfg.Listen.Socket)
	transport.SetTimeout(cfg.RequestTimeout())

	app, err := hostapp.New(cfg, hostapp.Options{
		Credentials: creds,
		Backend:     backend,
		Transport:   transport,
		Out:         os.Stdout,
	})
	if err != nil {
		slog.Error("failed to create host application", "error", err)
		return ExitError
	}
	defer app.Close()

	out, err := app.Handshake(ctx, mode)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("interrupted before the handshake completed")
			return ExitError
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitHandshake
	}

	fmt.Printf("%s %s (%s) at %s\n", out.Role, out.SessionName, out.SessionID, out.Address)

	<-ctx.Done()
	slog.Info("shutdown signal received, leaving session")

	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := app.Leave(leaveCtx); err != nil {
		slog.Warn("failed to leave session", "error", err)
		return ExitError
	}
	return ExitSuccess
}

// runSessions prints the directory listing
func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	req := &ipc.Request{Type: ipc.MessageTypeListSessions}
	if listKeyword != "" {
		req = &ipc.Request{
			Type:   ipc.MessageTypeFindSessions,
			Filter: &session.Filter{Keyword: listKeyword},
		}
	}

	client := ipc.NewClient(cfg.Listen.Socket)
	client.SetTimeout(cfg.RequestTimeout())

	resp, err := client.Send(context.Background(), req)
	if err != nil {
		return fmt.Errorf("directory unreachable: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Sessions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tKEYWORD\tOPEN\tEXPIRES")
	for _, s := range resp.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			s.ID, s.Name, s.OwnerID, s.Settings.Keyword,
			s.OpenSlots(), s.Settings.NumPublicConnections,
			s.ExpiresAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("rendezvous version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := config.Load(configFile)
	if err == nil {
		err = cfg.ValidateIdentity()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	fmt.Println("✅ Configuration is valid")
	fmt.Println()
	fmt.Println("Effective configuration (secrets redacted):")

	data, err := yaml.Marshal(cfg.Redact())
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Println(string(data))

	return nil
}
