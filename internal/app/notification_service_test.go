package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/sbustap/internal/bus"
	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/notifications"
	"github.com/skobkin/sbustap/internal/protocol"
)

func enabledNotificationConfig() config.AppConfig {
	cfg := config.Default()
	cfg.Notifications.Enabled = true

	return cfg
}

func startNotificationService(t *testing.T, cfg config.AppConfig) (*bus.PubSubBus, *collectingNotificationSender) {
	t.Helper()

	messageBus := newTestMessageBus(t)
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig { return cfg }, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service.Start(ctx)

	return messageBus, sender
}

func TestNotificationServiceFailsafeOnlyOnTransition(t *testing.T) {
	messageBus, sender := startNotificationService(t, enabledNotificationConfig())

	messageBus.Publish(connectors.TopicChannels, protocol.Channels{Failsafe: false, Timestamp: 1})
	messageBus.Publish(connectors.TopicChannels, protocol.Channels{Failsafe: true, Timestamp: 2})
	messageBus.Publish(connectors.TopicChannels, protocol.Channels{Failsafe: true, Timestamp: 3})

	got := sender.waitForCount(t, 1)
	if got[0].Title != notificationTitleFailsafe {
		t.Fatalf("expected failsafe title, got %q", got[0].Title)
	}
	sender.assertCount(t, 1)

	messageBus.Publish(connectors.TopicChannels, protocol.Channels{Failsafe: false, Timestamp: 4})
	messageBus.Publish(connectors.TopicChannels, protocol.Channels{Failsafe: true, Timestamp: 5})
	sender.waitForCount(t, 2)
}

func TestNotificationServiceFrameLostRespectsToggle(t *testing.T) {
	cfg := enabledNotificationConfig()
	cfg.Notifications.Events.FrameLost = false
	messageBus, sender := startNotificationService(t, cfg)

	messageBus.Publish(connectors.TopicChannels, protocol.Channels{FrameLost: true})
	sender.assertCount(t, 0)
}

func TestNotificationServiceDisabledByDefault(t *testing.T) {
	messageBus, sender := startNotificationService(t, config.Default())

	messageBus.Publish(connectors.TopicChannels, protocol.Channels{Failsafe: true, FrameLost: true})
	messageBus.Publish(connectors.TopicFault, connectors.Fault{Kind: connectors.FaultDevice, Message: "device error: x"})
	sender.assertCount(t, 0)
}

func TestNotificationServiceReceiverLinkLoss(t *testing.T) {
	messageBus, sender := startNotificationService(t, enabledNotificationConfig())

	messageBus.Publish(connectors.TopicDeviceStatus, protocol.Status{Connected: false})
	messageBus.Publish(connectors.TopicDeviceStatus, protocol.Status{Connected: true})
	messageBus.Publish(connectors.TopicDeviceStatus, protocol.Status{Connected: false})

	got := sender.waitForCount(t, 1)
	if got[0].Title != notificationTitleLinkLost {
		t.Fatalf("expected link lost title, got %q", got[0].Title)
	}
	sender.assertCount(t, 1)
}

func TestNotificationServiceDeviceErrorsOnly(t *testing.T) {
	messageBus, sender := startNotificationService(t, enabledNotificationConfig())

	messageBus.Publish(connectors.TopicFault, connectors.Fault{Kind: connectors.FaultMalformed, Message: "malformed line"})
	messageBus.Publish(connectors.TopicFault, connectors.Fault{Kind: connectors.FaultDevice, Message: "device error: channel locked"})

	got := sender.waitForCount(t, 1)
	if got[0].Title != notificationTitleDeviceError || got[0].Content != "channel locked" {
		t.Fatalf("unexpected notification: %+v", got[0])
	}
	sender.assertCount(t, 1)
}

func TestNotificationServiceConnectionStatusDeduplicates(t *testing.T) {
	messageBus, sender := startNotificationService(t, enabledNotificationConfig())

	connected := connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "serial",
		Target:        "/dev/ttyACM0@115200",
	}
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{State: connectors.ConnectionStateConnecting, TransportName: "serial"})
	messageBus.Publish(connectors.TopicConnStatus, connected)
	messageBus.Publish(connectors.TopicConnStatus, connected)
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: "serial",
		Target:        "/dev/ttyACM0@115200",
		Err:           "device link lost",
	})

	got := sender.waitForCount(t, 2)
	if got[0].Title != "Serial - connected" || got[0].Content != "/dev/ttyACM0@115200" {
		t.Fatalf("unexpected connected notification: %+v", got[0])
	}
	if got[1].Title != "Serial - disconnected" || got[1].Content != "/dev/ttyACM0@115200 (error: device link lost)" {
		t.Fatalf("unexpected disconnected notification: %+v", got[1])
	}
	sender.assertCount(t, 2)
}

func newTestMessageBus(t *testing.T) *bus.PubSubBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	current := s.snapshot()
	if len(current) != expected {
		t.Fatalf("expected %d notifications, got %d", expected, len(current))
	}
}
