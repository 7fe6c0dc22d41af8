package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skobkin/sbustap/internal/bus"
	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/notifications"
	"github.com/skobkin/sbustap/internal/protocol"
)

const (
	notificationTitleFailsafe    = "Failsafe active"
	notificationTitleFrameLost   = "SBUS frames lost"
	notificationTitleLinkLost    = "Receiver link lost"
	notificationTitleDeviceError = "Device error"
)

// NotificationService listens to bus events and emits desktop notifications
// on state transitions, not on every frame.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	mu               sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool
	failsafe         bool
	frameLost        bool
	linkUp           bool
	linkKnown        bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	channelsSub := s.bus.Subscribe(connectors.TopicChannels)
	statusSub := s.bus.Subscribe(connectors.TopicDeviceStatus)
	faultSub := s.bus.Subscribe(connectors.TopicFault)
	connSub := s.bus.Subscribe(connectors.TopicConnStatus)

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.bus.Unsubscribe(channelsSub, connectors.TopicChannels)
				s.bus.Unsubscribe(statusSub, connectors.TopicDeviceStatus)
				s.bus.Unsubscribe(faultSub, connectors.TopicFault)
				s.bus.Unsubscribe(connSub, connectors.TopicConnStatus)
				return
			case raw, ok := <-channelsSub:
				if !ok {
					return
				}
				if msg, ok := raw.(protocol.Channels); ok {
					s.handleChannels(msg)
				}
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				if msg, ok := raw.(protocol.Status); ok {
					s.handleDeviceStatus(msg)
				}
			case raw, ok := <-faultSub:
				if !ok {
					return
				}
				if fault, ok := raw.(connectors.Fault); ok {
					s.handleFault(fault)
				}
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				if status, ok := raw.(connectors.ConnectionStatus); ok {
					s.handleConnectionStatus(status)
				}
			}
		}
	}()
}

func (s *NotificationService) handleChannels(msg protocol.Channels) {
	s.mu.Lock()
	enteredFailsafe := msg.Failsafe && !s.failsafe
	enteredFrameLost := msg.FrameLost && !s.frameLost
	s.failsafe = msg.Failsafe
	s.frameLost = msg.FrameLost
	s.mu.Unlock()

	prefs := s.notificationPrefs()
	if enteredFailsafe && s.shouldNotify(prefs, prefs.Events.Failsafe) {
		s.send(notifications.Payload{
			Title:   notificationTitleFailsafe,
			Content: "The receiver reports failsafe; outputs follow the failsafe values.",
		})
	}
	if enteredFrameLost && s.shouldNotify(prefs, prefs.Events.FrameLost) {
		s.send(notifications.Payload{
			Title:   notificationTitleFrameLost,
			Content: "The receiver reports lost SBUS frames.",
		})
	}
}

func (s *NotificationService) handleDeviceStatus(msg protocol.Status) {
	s.mu.Lock()
	lost := s.linkKnown && s.linkUp && !msg.Connected
	s.linkUp = msg.Connected
	s.linkKnown = true
	s.mu.Unlock()

	prefs := s.notificationPrefs()
	if lost && s.shouldNotify(prefs, prefs.Events.Connection) {
		s.send(notifications.Payload{
			Title:   notificationTitleLinkLost,
			Content: "The device no longer sees SBUS input.",
		})
	}
}

func (s *NotificationService) handleFault(fault connectors.Fault) {
	if fault.Kind != connectors.FaultDevice {
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.Events.DeviceError) {
		return
	}

	s.send(notifications.Payload{
		Title:   notificationTitleDeviceError,
		Content: strings.TrimPrefix(fault.Message, "device error: "),
	})
}

func (s *NotificationService) handleConnectionStatus(status connectors.ConnectionStatus) {
	if status.State == "" {
		return
	}

	s.mu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.mu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.mu.Unlock()

	if status.State != connectors.ConnectionStateConnected &&
		status.State != connectors.ConnectionStateDisconnected {
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.Events.Connection) {
		return
	}

	transport := notificationTransportName(status.TransportName)
	if transport == "" {
		transport = "Unknown"
	}
	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.State == connectors.ConnectionStateDisconnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", transport, status.State),
		Content: details,
	})
}

func (s *NotificationService) shouldNotify(prefs config.NotificationConfig, kindEnabled bool) bool {
	return prefs.Enabled && kindEnabled
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}

func notificationTransportName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ip":
		return "IP"
	case "serial":
		return "Serial"
	default:
		return strings.TrimSpace(name)
	}
}
