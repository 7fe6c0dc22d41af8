package app

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/sbustap/internal/bus"
	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/persistence"
	"github.com/skobkin/sbustap/internal/protocol"
)

const pruneInterval = time.Hour

// Recorder persists session telemetry published on the bus. Channel frames
// are sampled at the configured interval, but a frame whose failsafe or
// frame-lost flag differs from the previous frame is always kept.
type Recorder struct {
	bus    bus.MessageBus
	queue  *persistence.WriterQueue
	repo   *persistence.TelemetryRepo
	db     *sql.DB
	cfg    config.RecorderConfig
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	lastSampleAt  time.Time
	lastFailsafe  bool
	lastFrameLost bool
	haveFrame     bool
	lastConnected bool
	haveStatus    bool
}

func NewRecorder(
	messageBus bus.MessageBus,
	queue *persistence.WriterQueue,
	db *sql.DB,
	cfg config.RecorderConfig,
	logger *slog.Logger,
) *Recorder {
	if logger == nil {
		logger = slog.Default().With("component", "app.recorder")
	}
	if cfg.SampleIntervalMS <= 0 {
		cfg.SampleIntervalMS = config.DefaultSampleIntervalMS
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = config.DefaultRetentionHours
	}

	return &Recorder{
		bus:    messageBus,
		queue:  queue,
		repo:   persistence.NewTelemetryRepo(db),
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Recorder) Start(ctx context.Context) {
	if r == nil || r.bus == nil || r.queue == nil {
		return
	}

	channelsSub := r.bus.Subscribe(connectors.TopicChannels)
	statusSub := r.bus.Subscribe(connectors.TopicDeviceStatus)
	expiredSub := r.bus.Subscribe(connectors.TopicOverrideExpired)
	faultSub := r.bus.Subscribe(connectors.TopicFault)

	r.prune()
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.bus.Unsubscribe(channelsSub, connectors.TopicChannels)
				r.bus.Unsubscribe(statusSub, connectors.TopicDeviceStatus)
				r.bus.Unsubscribe(expiredSub, connectors.TopicOverrideExpired)
				r.bus.Unsubscribe(faultSub, connectors.TopicFault)
				return
			case <-ticker.C:
				r.prune()
			case raw, ok := <-channelsSub:
				if !ok {
					return
				}
				if msg, ok := raw.(protocol.Channels); ok {
					r.handleChannels(msg)
				}
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				if msg, ok := raw.(protocol.Status); ok {
					r.handleStatus(msg)
				}
			case raw, ok := <-expiredSub:
				if !ok {
					return
				}
				if msg, ok := raw.(protocol.OverrideExpired); ok {
					r.handleOverrideExpired(msg)
				}
			case raw, ok := <-faultSub:
				if !ok {
					return
				}
				if fault, ok := raw.(connectors.Fault); ok {
					r.handleFault(fault)
				}
			}
		}
	}()
}

func (r *Recorder) handleChannels(msg protocol.Channels) {
	now := r.now()

	r.mu.Lock()
	flagsChanged := r.haveFrame && (msg.Failsafe != r.lastFailsafe || msg.FrameLost != r.lastFrameLost)
	due := !r.haveFrame || now.Sub(r.lastSampleAt) >= r.cfg.SampleInterval()
	r.haveFrame = true
	r.lastFailsafe = msg.Failsafe
	r.lastFrameLost = msg.FrameLost
	if !due && !flagsChanged {
		r.mu.Unlock()

		return
	}
	r.lastSampleAt = now
	r.mu.Unlock()

	rec := persistence.ChannelFrameRecord{
		RecordedAt:      now,
		DeviceTimestamp: msg.Timestamp,
		Input:           msg.InputChannels,
		Output:          msg.OutputChannels,
		Overrides:       msg.Overrides,
		FrameLost:       msg.FrameLost,
		Failsafe:        msg.Failsafe,
	}
	r.queue.Enqueue("insert_channel_frame", func(ctx context.Context) error {
		return r.repo.InsertChannelFrame(ctx, rec)
	})
}

func (r *Recorder) handleStatus(msg protocol.Status) {
	r.mu.Lock()
	if r.haveStatus && r.lastConnected == msg.Connected {
		r.mu.Unlock()

		return
	}
	r.haveStatus = true
	r.lastConnected = msg.Connected
	r.mu.Unlock()

	rec := persistence.StatusEventRecord{RecordedAt: r.now(), DeviceTimestamp: msg.Timestamp, Connected: msg.Connected}
	r.queue.Enqueue("insert_status_event", func(ctx context.Context) error {
		return r.repo.InsertStatusEvent(ctx, rec)
	})
}

func (r *Recorder) handleOverrideExpired(msg protocol.OverrideExpired) {
	rec := persistence.OverrideExpirationRecord{RecordedAt: r.now(), Channel: msg.Channel}
	r.queue.Enqueue("insert_override_expiration", func(ctx context.Context) error {
		return r.repo.InsertOverrideExpiration(ctx, rec)
	})
}

func (r *Recorder) handleFault(fault connectors.Fault) {
	at := fault.Timestamp
	if at.IsZero() {
		at = r.now()
	}

	rec := persistence.DeviceErrorRecord{RecordedAt: at, Kind: string(fault.Kind), Message: fault.Message}
	r.queue.Enqueue("insert_device_error", func(ctx context.Context) error {
		return r.repo.InsertDeviceError(ctx, rec)
	})
}

func (r *Recorder) prune() {
	cutoff := r.now().Add(-r.cfg.Retention())
	r.queue.Enqueue("prune_telemetry", func(ctx context.Context) error {
		removed, err := persistence.PruneOlderThan(ctx, r.db, cutoff)
		if err != nil {
			return err
		}
		if removed > 0 {
			r.logger.Info("pruned old telemetry", "rows", removed, "cutoff", cutoff)
		}

		return nil
	})
}
