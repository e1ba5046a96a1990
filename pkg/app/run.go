// Package app provides the shared entry point of the skillgate binary: it
// loads the configuration, assembles the gateway and runs it until a
// shutdown signal.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/flemzord/skillgate/internal/reload"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel overrides log.level from the configuration when non-empty.
	LogLevel string

	// Stop, if non-nil, ends the loop when closed. The OS service wrapper
	// uses it instead of signals.
	Stop <-chan struct{}
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP and file changes re-apply the runtime-mutable
// settings without a restart.
func Run(params RunParams) error {
	rt, err := Open(OpenParams{
		ConfigPath: params.ConfigPath,
		DataDir:    params.DataDir,
		Version:    params.Version,
		LogLevel:   params.LogLevel,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := rt.Logger
	if err := rt.Start(); err != nil {
		return err
	}
	logger.Info("skillgate started",
		"version", params.Version,
		"commit", params.Commit,
		"config", rt.ConfigPath,
		"data_dir", rt.DataDir,
	)

	handler := reload.NewHandler(logger, rt.appliers()...)
	notifySystemd(logger, daemon.SdNotifyReady)

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: rt.ConfigPath, Logger: logger})
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watcher.Start(watchCtx)
	defer watcher.Stop()

	// --- main event loop ---
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				notifySystemd(logger, daemon.SdNotifyReloading)
				if err := handler.HandleReload(watchCtx, rt.ConfigPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				notifySystemd(logger, daemon.SdNotifyReady)
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			notifySystemd(logger, daemon.SdNotifyStopping)
			rt.Stop()
			logger.Info("shutdown complete")
			return nil
		case <-params.Stop:
			logger.Info("stop requested")
			notifySystemd(logger, daemon.SdNotifyStopping)
			rt.Stop()
			logger.Info("shutdown complete")
			return nil
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, rt.ConfigPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// notifySystemd reports state changes to systemd. It is a no-op outside a
// notify-type unit.
func notifySystemd(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("systemd notify failed", "state", state, "error", err)
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/skillgate/skillgate.yaml →
// ~/.config/skillgate/skillgate.yaml → ./skillgate.yaml
func ResolveConfigPath() (string, error) {
	candidates := ConfigCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// ConfigCandidates lists the config locations ResolveConfigPath tries, in
// order. The first entry is where `skillgate init` writes by default.
func ConfigCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "skillgate", "skillgate.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "skillgate", "skillgate.yaml"))
	}
	return append(candidates, "skillgate.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/skillgate if set, otherwise ~/.local/share/skillgate.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "skillgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "skillgate")
}
