package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lmbridge/lmbridge/internal/config"
	"github.com/lmbridge/lmbridge/internal/obs"
	"github.com/lmbridge/lmbridge/internal/obs/otel"
	"github.com/lmbridge/lmbridge/internal/server"
	"github.com/lmbridge/lmbridge/pkg/daemon"
	"github.com/lmbridge/lmbridge/pkg/lock"
)

// ConfigLoader defers configuration loading until cobra has parsed the
// persistent flags, so --config and --config-dir take effect before the
// file is read.
type ConfigLoader func() (*config.Config, error)

const messagesEndpointTpl = "http://%s/v1/messages"

// startFlags holds the flags shared between start and restart.
type startFlags struct {
	listen  string
	daemon  bool
	logFile string
}

// addStartFlags adds all start-related flags to a flag set
// This is shared between start and restart commands
func addStartFlags(fs *pflag.FlagSet, flags *startFlags) {
	fs.StringVarP(&flags.listen, "listen", "l", "", "Listen address (default: from config or "+config.DefaultListen+")")
	fs.BoolVar(&flags.daemon, "daemon", false, "Run as daemon in background (default: false)")
	fs.StringVar(&flags.logFile, "log-file", "", "Log file path (default: <config dir>/log/lmbridge.log)")
}

// startServerOptions contains resolved options for starting the server
type startServerOptions struct {
	Listen  string
	Daemon  bool
	LogFile string
}

// resolveStartOptions resolves start options from CLI flags and config.
// Priority: CLI flag > Config > Default.
func resolveStartOptions(flags startFlags, cfg *config.Config) startServerOptions {
	listen := flags.listen
	if listen == "" {
		listen = cfg.GetListen()
	}

	logFile := flags.logFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Dir(), config.LogDirName, "lmbridge.log")
	}

	return startServerOptions{
		Listen:  listen,
		Daemon:  flags.daemon,
		LogFile: logFile,
	}
}

// metricsConfig maps the metrics_export setting onto the OTel pipeline
// config. "none" and unknown values disable export entirely.
func metricsConfig(cfg *config.Config) *otel.Config {
	mc := otel.DefaultConfig()
	switch cfg.GetMetricsExport() {
	case config.MetricsExportStdout:
		mc.StdoutEnabled = true
	case config.MetricsExportOTLPHTTP:
		mc.OTLPEndpoint = cfg.GetOTLPEndpoint()
		mc.OTLPProtocol = otel.OTLPProtocolHTTP
		mc.OTLPInsecure = true
	case config.MetricsExportOTLPGRPC:
		mc.OTLPEndpoint = cfg.GetOTLPEndpoint()
		mc.OTLPProtocol = otel.OTLPProtocolGRPC
		mc.OTLPInsecure = true
	default:
		mc.Enabled = false
	}
	return mc
}

// startServer handles the server starting logic: logging, daemon fork,
// single-instance lock, metrics pipeline, HTTP serving, and graceful
// shutdown on SIGINT/SIGTERM.
func startServer(cfg *config.Config, version string, opts startServerOptions) error {
	obs.SetupLogging(obs.LogOptions{
		Level: cfg.GetLogLevel(),
		File:  opts.LogFile,
		Quiet: opts.Daemon,
	})
	logrus.Infof("Logging to file: %s (with rotation)", opts.LogFile)

	// Handle daemon mode: fork a detached child and exit. Only the
	// child (marked by the daemon env var) reaches the code below.
	if opts.Daemon && !daemon.IsDaemonProcess() {
		fmt.Printf("Starting daemon process...\n")
		fmt.Printf("Logging to: %s\n", opts.LogFile)
		fmt.Printf("Anthropic Messages endpoint: "+messagesEndpointTpl+"\n", opts.Listen)
		fmt.Println("Server is running in background. Use 'lmbridge stop' to stop.")
		if err := daemon.Daemonize(); err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
	}

	// Check if server is already running using file lock
	fileLock := lock.NewFileLock(cfg.Dir())
	if fileLock.IsLocked() {
		fmt.Println("Server is already running")
		fmt.Println("Tip: Use 'lmbridge stop' to stop the running server first")
		return nil
	}

	// Acquire lock before starting server
	if err := fileLock.TryLock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer fileLock.Unlock()

	stateLog, err := obs.NewStateLog(cfg.Dir())
	if err != nil {
		logrus.Warnf("State log unavailable: %v", err)
		stateLog = nil
	}

	meterSetup, err := otel.NewMeterSetup(context.Background(), metricsConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to set up metrics export: %w", err)
	}

	srv, err := server.NewServer(cfg,
		server.WithVersion(version),
		server.WithTracker(meterSetup.Tracker()),
		server.WithStateLog(stateLog),
		server.WithLogOptions(obs.LogOptions{
			Level: cfg.GetLogLevel(),
			File:  opts.LogFile,
			Quiet: opts.Daemon,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if meter := meterSetup.Meter(); meter != nil {
		if err := otel.RegisterStateObservers(meter, srv.CacheStats, srv.StreamStats); err != nil {
			logrus.Warnf("Failed to register metric observers: %v", err)
		}
	}

	if stateLog != nil {
		_ = stateLog.LogAction(obs.ActionStartServer, map[string]string{"listen": opts.Listen}, true, "server starting")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine to keep it non-blocking
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(opts.Listen)
	}()

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErr:
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived %s, stopping server...\n", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if stateLog != nil {
		_ = stateLog.LogAction(obs.ActionStopServer, nil, true, "shutdown signal received")
	}
	stopErr := srv.Stop(shutdownCtx)
	if err := meterSetup.Shutdown(shutdownCtx); err != nil {
		logrus.Debugf("Failed to shut down metrics export: %v", err)
	}
	return stopErr
}

// doStopServer stops the running server
func doStopServer(cfg *config.Config) error {
	fileLock := lock.NewFileLock(cfg.Dir())

	if !fileLock.IsLocked() {
		fmt.Println("Server is not running")
		return nil
	}

	fmt.Println("Stopping server...")
	if err := stopServerWithFileLock(fileLock); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	fmt.Println("Server stopped successfully")
	return nil
}

// StartCommand represents the start server command
func StartCommand(load ConfigLoader, version string) *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the LM Bridge server",
		Long: `Start the LM Bridge HTTP server that accepts Anthropic Messages API
requests and routes them to the configured OpenAI-compatible backends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			opts := resolveStartOptions(flags, cfg)
			return startServer(cfg, version, opts)
		},
	}

	addStartFlags(cmd.Flags(), &flags)
	return cmd
}

// StopCommand represents the stop server command
func StopCommand(load ConfigLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the LM Bridge server",
		Long: `Stop the running LM Bridge HTTP server gracefully.
All ongoing requests will be completed before shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return doStopServer(cfg)
		},
	}

	return cmd
}

// StatusCommand represents the status command
func StatusCommand(load ConfigLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check server status and configuration",
		Long: `Display the current status of the LM Bridge server and show
configuration information including backends and model routes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			fileLock := lock.NewFileLock(cfg.Dir())
			running := fileLock.IsLocked()

			fmt.Println("=== LM Bridge Status ===")
			fmt.Printf("Server Status: ")
			if running {
				fmt.Printf("Running\n")
				if pid, err := fileLock.GetPID(); err == nil {
					fmt.Printf("PID: %d\n", pid)
				}
				if stateLog, err := obs.NewStateLog(cfg.Dir()); err == nil {
					status := stateLog.Status()
					if status.Running {
						fmt.Printf("Port: %d\n", status.Port)
						fmt.Printf("Anthropic Messages endpoint: http://localhost:%d/v1/messages\n", status.Port)
					}
				}
			} else {
				fmt.Printf("Stopped\n")
			}

			fmt.Printf("\nConfig file: %s\n", cfg.ConfigFile)
			fmt.Printf("Listen address: %s\n", cfg.GetListen())

			backends := cfg.GetBackends()
			fmt.Printf("\nConfigured Backends: %d\n", len(backends)+1)
			def := cfg.DefaultBackend()
			fmt.Printf("  - %s: %s\n", def.Name, def.BaseURL)
			for _, b := range backends {
				fmt.Printf("  - %s: %s\n", b.Name, b.BaseURL)
			}

			routes := cfg.GetRoutes()
			fmt.Printf("\nConfigured Routes: %d\n", len(routes))
			for _, r := range routes {
				fmt.Printf("  - %s -> %s\n", r.ModelGlob, r.Backend)
			}

			return nil
		},
	}

	return cmd
}

// RestartCommand represents the restart server command
func RestartCommand(load ConfigLoader, version string) *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the LM Bridge server",
		Long: `Restart the running LM Bridge HTTP server.
This command will stop the current server (if running) and start a new instance.
The restart is graceful - ongoing requests will be completed before shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			opts := resolveStartOptions(flags, cfg)

			fileLock := lock.NewFileLock(cfg.Dir())
			wasRunning := fileLock.IsLocked()

			if wasRunning {
				fmt.Println("Stopping current server...")
				if err := stopServerWithFileLock(fileLock); err != nil {
					return fmt.Errorf("failed to stop server: %w", err)
				}
				fmt.Println("Server stopped successfully")

				// Give a moment for cleanup
				time.Sleep(1 * time.Second)
			} else {
				fmt.Println("Server was not running, starting it...")
			}

			// Start new server
			return startServer(cfg, version, opts)
		},
	}

	addStartFlags(cmd.Flags(), &flags)
	return cmd
}
