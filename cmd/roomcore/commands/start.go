package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roomctl/roomcore/internal/broker"
	"github.com/roomctl/roomcore/internal/config"
	"github.com/roomctl/roomcore/internal/coordinator"
	"github.com/roomctl/roomcore/internal/eventstore"
	"github.com/roomctl/roomcore/internal/facade"
	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/logger"
	"github.com/roomctl/roomcore/internal/metrics"
	"github.com/roomctl/roomcore/internal/registry"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the coordinator",
	Long: `Start the roomcore coordinator: connects to the broker, opens the
event store, and runs the single cooperative event loop until stopped.

By default the coordinator runs in the background (daemon mode). Use
--foreground to run in the foreground, e.g. under a process supervisor.

Examples:
  roomcore start
  roomcore start --foreground
  roomcore start --config /etc/roomcore/roomcore.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "path to PID file (default: $XDG_STATE_HOME/roomcore/roomcore.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "path to log file for daemon mode (default: $XDG_STATE_HOME/roomcore/roomcore.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("roomcore starting", "room_id", cfg.RoomID, "version", Version)

	mr := metrics.New(cfg.Metrics.Enabled)

	session := broker.New(broker.Config{
		Brokers:        []string{cfg.Broker.Address},
		ClientID:       cfg.Broker.ClientID,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		KeepAlive:      cfg.Broker.KeepAlive,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
	})
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("broker connect failed: %w", err)
	}
	if err := session.SubscribeRoom(cfg.RoomID); err != nil {
		return fmt.Errorf("broker subscribe failed: %w", err)
	}
	defer session.Close(2 * time.Second)

	store, err := openEventStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("event store open failed: %w", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	co, err := coordinator.New(coordinator.Config{
		RoomID:                 cfg.RoomID,
		TickInterval:           time.Duration(cfg.TickMs) * time.Millisecond,
		OfflineWindow:          time.Duration(cfg.DeviceOfflineMs) * time.Millisecond,
		TelemetryRingSize:      32,
		DryRun:                 cfg.DryRun,
		DispatchEnabled:        cfg.DispatchEnabled,
		CriticalArmed:          cfg.CriticalArmed,
		DefaultRetries:         cfg.DispatchDefaultRetries,
		DefaultAckTimeout:      time.Duration(cfg.DispatchAckTimeoutMs) * time.Millisecond,
		DefaultCompleteTimeout: time.Duration(cfg.DispatchCompleteTimeoutMs) * time.Millisecond,
		ControlToken:           cfg.CoreControlToken,
		Session:                session,
		Store:                  store,
		Metrics:                mr,
	}, buildSeed(cfg))
	if err != nil {
		return fmt.Errorf("coordinator assembly failed: %w", err)
	}

	if err := loadInitialGraph(co, cfg, store); err != nil {
		return fmt.Errorf("graph load failed: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = newMetricsServer(cfg.Metrics.Address, mr)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "address", cfg.Metrics.Address)
	}

	var facadeSrv *http.Server
	if cfg.Facade.Enabled {
		facadeSrv = newFacadeServer(cfg, session, co, store)
		go func() {
			if err := facadeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("façade server error", "error", err)
			}
		}()
		logger.Info("façade enabled", "address", cfg.Facade.Address)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	runDone := make(chan error, 1)
	go func() { runDone <- co.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("coordinator running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, stopping")
		cancel()
		<-runDone
	case err := <-runDone:
		signal.Stop(sigChan)
		if err != nil && err != context.Canceled {
			logger.Error("coordinator stopped with error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if facadeSrv != nil {
		_ = facadeSrv.Shutdown(shutdownCtx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("roomcore stopped")
	return nil
}

func openEventStore(ctx context.Context, cfg *config.Config) (eventstore.Store, error) {
	if !cfg.EventStore.Enabled {
		return nil, nil
	}
	if cfg.EventStore.DSN != "" {
		return eventstore.OpenPostgres(ctx, cfg.EventStore.DSN)
	}
	return eventstore.OpenBadger(cfg.EventStore.BadgerPath, cfg.RoomID)
}

func buildSeed(cfg *config.Config) registry.Seed {
	seed := registry.Seed{
		SafetyClassByDevice: make(map[string]registry.SafetyClass, len(cfg.DeviceSafetyClassSeed)),
		HMACKeyHexByDevice:  make(map[string]string, len(cfg.DeviceHMACKeys)),
	}
	for deviceID, class := range cfg.DeviceSafetyClassSeed {
		seed.SafetyClassByDevice[deviceID] = registry.SafetyClass(class)
	}
	for deviceID, keyHex := range cfg.DeviceHMACKeys {
		seed.HMACKeyHexByDevice[deviceID] = keyHex
	}
	return seed
}

// loadInitialGraph loads a graph document from cfg.GraphPath (if set)
// or from the already-active graph in the store, and starts it when
// cfg.GraphAutostart is set.
func loadInitialGraph(co *coordinator.Coordinator, cfg *config.Config, store eventstore.Store) error {
	switch {
	case cfg.GraphPath != "":
		raw, err := os.ReadFile(cfg.GraphPath)
		if err != nil {
			return fmt.Errorf("reading graph file %s: %w", cfg.GraphPath, err)
		}
		var doc graph.Document
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing graph file %s: %w", cfg.GraphPath, err)
		}
		if err := co.Runner().Load(&doc); err != nil {
			return err
		}

	case store != nil:
		// Cold start: load whatever graph the store already has active,
		// bypassing Reload's pause-required check (that check guards
		// swapping a graph out from under a running coordinator, which
		// doesn't apply before the first Tick).
		doc, err := store.LoadGraph()
		if err != nil {
			logger.Info("no active graph to autoload at startup", "error", err)
			return nil
		}
		if err := co.Runner().Load(doc); err != nil {
			return err
		}
	}

	if cfg.GraphAutostart && co.Runner().Loaded() {
		if err := co.Runner().Start(time.Now()); err != nil {
			return fmt.Errorf("graph autostart: %w", err)
		}
	}
	return nil
}

func newMetricsServer(address string, mr *metrics.Registry) *http.Server {
	mux := http.NewServeMux()
	if g := mr.Gatherer(); g != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return &http.Server{Addr: address, Handler: mux}
}

// statusSourceFunc adapts a Coordinator's CurrentStatus method to
// facade.StatusSource.
type statusSourceFunc func() json.RawMessage

func (f statusSourceFunc) CurrentStatus() json.RawMessage { return f() }

func newFacadeServer(cfg *config.Config, session *broker.Session, co *coordinator.Coordinator, store eventstore.Store) *http.Server {
	f := facade.New(facade.Config{
		RoomID:        cfg.RoomID,
		ControlTopic:  broker.ControlRequestTopic(cfg.RoomID),
		SharedToken:   cfg.CoreControlToken,
		JWTSigningKey: []byte(cfg.Facade.JWTSecret),
		Control:       broker.CommandPublisher{Session: session, RoomID: cfg.RoomID},
		Status:        statusSourceFunc(co.CurrentStatus),
		Store:         store,
	})
	return &http.Server{Addr: cfg.Facade.Address, Handler: f.Router()}
}

// startDaemon starts the coordinator as a background daemon process.
func startDaemon() error {
	stateDir := defaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "roomcore.pid")
	}

	if data, err := os.ReadFile(pidPath); err == nil {
		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("roomcore is already running (PID %d); stop it first", pid)
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "roomcore.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("roomcore started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("Use 'roomcore status' to check coordinator status")
	return nil
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomcore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "roomcore")
	}
	return filepath.Join(home, ".local", "state", "roomcore")
}
