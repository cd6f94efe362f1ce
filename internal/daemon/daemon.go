package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wattscope/wattscope/internal/aggregate"
	"github.com/wattscope/wattscope/internal/analytics"
	"github.com/wattscope/wattscope/internal/api"
	"github.com/wattscope/wattscope/internal/config"
	"github.com/wattscope/wattscope/internal/ingest"
	"github.com/wattscope/wattscope/internal/mqtt"
	"github.com/wattscope/wattscope/internal/sched"
	"github.com/wattscope/wattscope/internal/store"
	"github.com/wattscope/wattscope/internal/vault"
	"github.com/wattscope/wattscope/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// connects to the MQTT broker, starts the web server and the rollup
// scheduler, and blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "wattscope.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "wattscope").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("wattscope starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("wattscope is already running (PID file exists at %s)", pidPath(dataDir))
	}

	// 3. Open store.
	dbPath := filepath.Join(dataDir, "wattscope.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 5. Resolve the broker password.
	password := ""
	if cfg.MQTT.PasswordRef != "" {
		secret, resolveErr := vault.New().ResolveRef(cfg.MQTT.PasswordRef)
		if resolveErr != nil {
			log.Warn().Err(resolveErr).Msg("failed to resolve MQTT password; connecting without credentials")
		} else {
			password = secret
		}
	}

	// 6. Build the ingestion pipeline and rollup machinery.
	norm := ingest.NewNormalizer(cfg.Ingest.EffectiveFieldMap())
	msglog := ingest.NewMessageLog(cfg.Ingest.MessageLogSize)
	tracker := aggregate.NewTracker()
	engine := aggregate.NewEngine(st, tracker)
	pruner := aggregate.NewPruner(st, cfg.Retention.RawRetentionDays)

	pipe, err := ingest.NewPipeline(st, norm, msglog, cfg.Ingest.StoreMode, cfg.Ingest.AllowSet(), tracker)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	// 7. Create the web server and feed it live readings.
	webAddr := fmt.Sprintf(":%d", cfg.Server.WebPort)
	srv := api.NewServer(analytics.New(st), st, msglog, webAddr)
	pipe.OnStored(srv.Hub().BroadcastReading)

	// 8. Connect to the MQTT broker. Storage errors are logged, not
	// fatal; the broker connection retries in the background.
	client, err := mqtt.NewClient(cfg.MQTT, password, func(topic string, payload []byte, receivedAt time.Time) {
		if _, ingestErr := pipe.Ingest(topic, payload, receivedAt); ingestErr != nil {
			log.Error().Err(ingestErr).Str("topic", topic).Msg("storing reading failed")
		}
	}, func(event string) {
		msglog.Append(ingest.LogEntry{
			Topic:   cfg.MQTT.BrokerURL(),
			Outcome: "broker",
			Reason:  event,
		})
	})
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}

	if err := client.Connect(); err != nil {
		log.Warn().Err(err).Str("broker", cfg.MQTT.BrokerURL()).Msg("initial broker connection failed; retrying in background")
	}
	defer client.Disconnect()

	// 9. Start the rollup scheduler. Pruning runs after aggregation so
	// raw rows are never deleted before their hour is rolled up.
	rollups := sched.New("rollups", cfg.Aggregate.Interval(), func(now time.Time) {
		engine.RunPass(now)
		n, pruneErr := pruner.Prune(now)
		if pruneErr != nil {
			log.Error().Err(pruneErr).Msg("pruning raw readings failed")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("pruned raw readings")
		}
	})
	rollups.Start()

	// 10. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer w.Close()
			w.OnChange(func(old, newCfg *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				pipe.SetAllowedDevices(newCfg.Ingest.AllowSet())
				pipe.SetStoreMode(newCfg.Ingest.StoreMode)
				pruner.SetRetentionDays(newCfg.Retention.RawRetentionDays)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 11. Start the web server.
	errCh := make(chan error, 1)
	go func() {
		readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
		writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
		idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second
		if err := srv.Start(readTimeout, writeTimeout, idleTimeout); err != nil {
			errCh <- err
		}
	}()

	log.Info().
		Int("web_port", cfg.Server.WebPort).
		Str("broker", cfg.MQTT.BrokerURL()).
		Str("topic", cfg.MQTT.Topic).
		Msg("wattscope is ready")

	if foreground {
		fmt.Printf("\n  WattScope is running!\n")
		fmt.Printf("  Dashboard: http://localhost:%d\n", cfg.Server.WebPort)
		fmt.Printf("  Broker:    %s\n\n", cfg.MQTT.BrokerURL())
	}

	// 12. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		rollups.Stop()
		return err
	}

	// 13. Graceful shutdown with 30-second timeout. The broker is
	// disconnected first so no new readings arrive while we drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	client.Disconnect()
	rollups.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("web server shutdown error")
	}

	// Final rollup pass so the current hour survives a restart.
	engine.RunPass(time.Now().UTC())

	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("wattscope stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("wattscope does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("wattscope is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to wattscope (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("wattscope is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("wattscope is running (PID %d)\n", pid)

	// Try to fetch consumption stats from the web API.
	statsURL := fmt.Sprintf("http://localhost:%d/api/stats", cfg.Server.WebPort)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (web API unreachable)")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("  (no readings recorded yet)")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats analytics.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Device:        %s\n", stats.DeviceID)
	fmt.Printf("  Days Tracked:  %d\n", stats.Days)
	fmt.Printf("  Total:         %.1f kWh\n", stats.TotalKWh)
	fmt.Printf("  Avg / Day:     %.2f kWh\n", stats.AvgPerDay)
	fmt.Printf("  Avg / Month:   %.1f kWh\n", stats.AvgPerMonth)
	fmt.Printf("  Year To Date:  %.1f kWh\n", stats.YearToDate)
	fmt.Printf("  Coverage:      %.0f%%\n", stats.Coverage*100)

	return nil
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
