// DeskStream - Remote Desktop Host
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slimrmm/deskstream/internal/config"
	"github.com/slimrmm/deskstream/internal/handler"
	"github.com/slimrmm/deskstream/internal/logging"
	"github.com/slimrmm/deskstream/internal/monitor"
	"github.com/slimrmm/deskstream/internal/platform"
	"github.com/slimrmm/deskstream/internal/security/mtls"
	"github.com/slimrmm/deskstream/internal/service"
	"github.com/slimrmm/deskstream/pkg/version"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 15 * time.Second

func main() {
	paths := config.DefaultPaths()

	var (
		showVersion = pflag.Bool("version", false, "Show version information")
		configPath  = pflag.StringP("config", "c", paths.ConfigFile, "Path to the configuration file")
		listenAddr  = pflag.StringP("listen", "l", "", "Listen address, overrides the configuration")
		viewOnly    = pflag.Bool("view-only", false, "Refuse all viewer input")
		selfSigned  = pflag.Bool("self-signed", false, "Serve TLS with a generated certificate")
		debug       = pflag.Bool("debug", false, "Enable debug logging")
		logStdout   = pflag.Bool("log-stdout", false, "Also write logs to stdout")
		install     = pflag.Bool("install", false, "Start the host at login for the current user")
		uninstall   = pflag.Bool("uninstall", false, "Remove the login autostart entry")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		os.Exit(0)
	}

	if *install || *uninstall {
		if err := manageService(*install, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "deskstream: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deskstream: %v\n", err)
		os.Exit(1)
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *viewOnly {
		cfg.AllowInput = false
	}
	if *selfSigned {
		cfg.SelfSignedTLS = true
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "deskstream: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.Setup(logging.Config{
		LogDir:      cfg.LogDir,
		Debug:       cfg.Debug,
		LogToStdout: *logStdout || (cfg.LogDir != "" && !logging.RunningAsService()),
		Format:      cfg.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "deskstream: setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("host failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to defaults when the file is missing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrConfigNotFound) {
		cfg = config.Default()
		cfg.SetPath(path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// manageService installs or removes the autostart entry. A fresh install
// also writes the default configuration when none exists yet.
func manageService(install bool, configPath string) error {
	mgr, err := service.New()
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	svcCfg := service.DefaultConfig(exe, configPath)

	if !install {
		if err := mgr.Uninstall(svcCfg.Name); err != nil {
			return fmt.Errorf("uninstalling: %w", err)
		}
		fmt.Println("autostart entry removed")
		return nil
	}

	if _, err := config.Load(configPath); errors.Is(err, config.ErrConfigNotFound) {
		cfg := config.Default()
		cfg.SetPath(configPath)
		if err := cfg.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "deskstream: could not write default config: %v\n", err)
		}
	}

	svcCfg.Environment = map[string]string{logging.ServiceEnv: "1"}
	if err := mgr.Install(svcCfg); err != nil {
		return fmt.Errorf("installing: %w", err)
	}
	if err := mgr.Start(svcCfg.Name); err != nil {
		return fmt.Errorf("starting: %w", err)
	}
	fmt.Printf("installed %s, starting at login\n", svcCfg.Name)
	return nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting DeskStream",
		"version", version.Get().Version,
		"config", cfg.Path(),
		"listen_addr", cfg.ListenAddr,
		"allow_input", cfg.AllowInput,
	)

	platform.RequestPermissions(logger)
	logger.Info("input backend", "backend", platform.InputBackend())
	for dep, ok := range platform.CheckDependencies() {
		if !ok {
			logger.Warn("platform dependency missing", "dependency", dep)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if stats, err := monitor.New(nil).GetStats(ctx); err == nil {
		logger.Info("host",
			"hostname", stats.Hostname,
			"platform", stats.Platform,
			"cpu_model", stats.CPU.ModelName,
			"memory_total", monitor.FormatBytes(stats.Memory.Total),
		)
	}

	h := handler.New(cfg, handler.Options{}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if cfg.TLSEnabled() {
		tlsConfig, err := newTLSConfig(cfg, logger)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	} else {
		logger.Warn("TLS disabled, viewer traffic is unencrypted")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			serveErr <- srv.ServeTLS(ln, "", "")
		} else {
			serveErr <- srv.Serve(ln)
		}
	}()
	logger.Info("listening", "addr", ln.Addr().String(), "websocket_path", cfg.WebSocketPath)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = h.Shutdown(context.Background())
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by the server.
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newTLSConfig(cfg *config.Config, logger *slog.Logger) (*tls.Config, error) {
	tlsConfig, err := mtls.NewServerTLSConfig(mtls.ServerPaths{
		Cert:     cfg.TLSCert,
		Key:      cfg.TLSKey,
		ClientCA: cfg.ClientCA,
	}, cfg.SelfSignedTLS && cfg.TLSCert == "")
	if err != nil {
		return nil, fmt.Errorf("creating TLS config: %w", err)
	}

	attrs := []any{"client_auth", cfg.ClientCA != ""}
	if expiry, err := mtls.CertExpiry(tlsConfig); err == nil {
		attrs = append(attrs, "cert_expires", expiry.Format(time.RFC3339))
	}
	if cfg.SelfSignedTLS && cfg.TLSCert == "" {
		if fp, err := mtls.Fingerprint(tlsConfig); err == nil {
			attrs = append(attrs, "self_signed_sha256", fp)
		}
	}
	logger.Info("TLS enabled", attrs...)

	return tlsConfig, nil
}
