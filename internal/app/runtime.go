package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/sbustap/internal/bus"
	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/device"
	"github.com/skobkin/sbustap/internal/logging"
	"github.com/skobkin/sbustap/internal/notifications"
	"github.com/skobkin/sbustap/internal/persistence"
	"github.com/skobkin/sbustap/internal/platform"
)

const writerStopTimeout = 3 * time.Second

// Options customizes runtime initialization for one CLI invocation.
type Options struct {
	// ConfigFile overrides the default config location.
	ConfigFile string
	// Configure is applied to the loaded config, e.g. for command-line flags.
	Configure func(*config.AppConfig)
	// Handler receives session events next to the bus bridge.
	Handler device.Handler
	// OpenDatabase opens the telemetry database even if recording is off.
	OpenDatabase bool
	// Console receives log output; nil means stderr.
	Console io.Writer
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager  *logging.Manager
	Bus         *bus.PubSubBus
	DB          *sql.DB
	Telemetry   *persistence.TelemetryRepo
	WriterQueue *persistence.WriterQueue

	ConnectionTransport *SwitchableTransport
	Session             *device.Session

	lockMu     sync.Mutex
	deviceLock platform.DeviceLock

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Configure != nil {
		opts.Configure(&cfg)
		cfg.FillMissingDefaults()
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if opts.Console != nil {
		logMgr = logging.NewManagerWithConsole(opts.Console)
	}
	if cfg.Logging.LogToFile {
		if err := paths.Ensure(); err != nil {
			cancel()
			return nil, err
		}
	}
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Debug("starting sbustap runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"), connectors.TopicChannels, connectors.TopicRawLineIn, connectors.TopicRawLineOut)
	rt.Bus = b
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)
	if logMgr.DebugEnabled() {
		startWireLog(ctx, b, logMgr.Logger("wire"))
	}

	if cfg.Recorder.Enabled || opts.OpenDatabase {
		if err := rt.openDatabase(ctx); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}
	if cfg.Recorder.Enabled {
		NewRecorder(b, rt.WriterQueue, rt.DB, cfg.Recorder, logMgr.Logger("recorder")).Start(ctx)
	}
	if cfg.Notifications.Enabled {
		sender := notifications.NewBeeepSender(Name, logMgr.Logger("notifications"))
		NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("notifications")).Start(ctx)
	}

	connTransport, err := NewConnectionTransport(cfg.Connection, cfg.Session.ReadTimeout())
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.ConnectionTransport = connTransport

	handlers := device.MultiHandler{device.NewBusHandler(b)}
	if opts.Handler != nil {
		handlers = append(handlers, opts.Handler)
	}
	rt.Session = device.NewSession(logMgr.Logger("session"), connTransport, handlers, SessionOptions(cfg.Session))

	return rt, nil
}

func (r *Runtime) openDatabase(ctx context.Context) error {
	if err := r.Paths.Ensure(); err != nil {
		return err
	}
	db, err := persistence.Open(ctx, r.Paths.DBFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.Telemetry = persistence.NewTelemetryRepo(db)

	writerQueue := persistence.NewWriterQueue(r.LogManager.Logger("persistence"), 512)
	writerQueue.Start(ctx)
	r.WriterQueue = writerQueue

	return nil
}

// Connect validates the connection settings, locks the device against other
// sbustap processes, performs the handshake and starts monitoring.
func (r *Runtime) Connect(ctx context.Context) error {
	cfg := r.CurrentConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := r.lockDevice(); err != nil {
		return err
	}
	if err := r.Session.Connect(ctx); err != nil {
		r.unlockDevice()
		return err
	}

	return r.Session.StartMonitoring()
}

func (r *Runtime) lockDevice() error {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()

	if r.deviceLock != nil {
		return nil
	}
	target := r.ConnectionTransport.StatusTarget()
	lock, err := platform.AcquireDeviceLock(Name, target)
	if err != nil {
		return fmt.Errorf("lock %s: %w", target, err)
	}
	r.deviceLock = lock

	return nil
}

func (r *Runtime) unlockDevice() {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()

	if r.deviceLock == nil {
		return
	}
	if err := r.deviceLock.Release(); err != nil {
		slog.Warn("release device lock", "error", err)
	}
	r.deviceLock = nil
}

// Retarget disconnects, switches the transport to cfg and connects again.
func (r *Runtime) Retarget(ctx context.Context, cfg config.ConnectionConfig) error {
	if err := r.Session.Disconnect(); err != nil {
		slog.Warn("disconnect before retarget", "error", err)
	}
	r.unlockDevice()

	r.mu.Lock()
	next := r.Config
	next.Connection = cfg
	next.FillMissingDefaults()
	if err := next.Validate(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := r.ConnectionTransport.Apply(next.Connection); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = next
	r.mu.Unlock()

	return r.Connect(ctx)
}

// SaveConfig persists the current runtime configuration.
func (r *Runtime) SaveConfig() error {
	cfg := r.CurrentConfig()
	if err := r.Paths.Ensure(); err != nil {
		return err
	}

	return config.Save(r.Paths.ConfigFile, cfg)
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

// startWireLog logs every raw line at debug level.
func startWireLog(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	sub := b.Subscribe(connectors.TopicRawLineIn, connectors.TopicRawLineOut)
	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(sub, connectors.TopicRawLineIn, connectors.TopicRawLineOut)
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				if line, ok := raw.(connectors.RawLine); ok {
					logger.Debug("line", "dir", line.Direction, "text", line.Line)
				}
			}
		}
	}()
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	if !known && r.ConnectionTransport != nil {
		return ConnectionStatusFromConfig(r.ConnectionTransport.Config()), false
	}
	return status, known
}

func (r *Runtime) ClearDatabase() error {
	if r.DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("database cleared")

	return nil
}

// Close stops the session before anything it publishes to, then flushes
// pending database writes.
func (r *Runtime) Close() error {
	var sessionErr error
	if r.Session != nil {
		sessionErr = r.Session.Disconnect()
	}
	r.unlockDevice()
	if r.cancel != nil {
		r.cancel()
	}
	if r.WriterQueue != nil {
		select {
		case <-r.WriterQueue.Done():
		case <-time.After(writerStopTimeout):
			slog.Warn("database writer did not stop in time")
		}
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return sessionErr
}
