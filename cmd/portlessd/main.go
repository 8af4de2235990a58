package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/daemon"
	"github.com/portless-dev/portless/internal/store"
	portlessversion "github.com/portless-dev/portless/internal/version"
)

var (
	flagHTTPS        bool
	flagHome         string
	flagKillChildren bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "portlessd",
		Short:         "Portless daemon - routes *.localhost domains to local dev servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = portlessversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.Flags().BoolVar(&flagHTTPS, "https", false, "terminate TLS on port 443 with the local CA")
	rootCmd.Flags().StringVar(&flagHome, "home", "", "override the portless home directory")
	rootCmd.Flags().BoolVar(&flagKillChildren, "kill-children", false, "terminate supervised dev servers on shutdown")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths, err := config.EnsurePaths(flagHome)
	if err != nil {
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	if err := setupLogging(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if pid, running := daemon.IsRunning(paths); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	st, err := store.Open(store.Options{Path: paths.StateDB})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer st.Close()

	d, err := daemon.New(daemon.Options{
		Paths:        paths,
		Store:        st,
		HTTPS:        flagHTTPS,
		KillChildren: flagKillChildren,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(ctx)
	}()

	log.Printf("Portless daemon started (PID: %d)", os.Getpid())
	log.Printf("Control socket: %s", paths.Socket)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
		d.Shutdown()
		if err := <-errChan; err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Printf("Daemon error: %v", err)
			return err
		}
	}

	log.Println("Daemon stopped")
	return nil
}

func setupLogging(paths config.Paths) error {
	if err := os.MkdirAll(paths.Logs, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Portless Daemon Starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
