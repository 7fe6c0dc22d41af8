package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorSerial   ConnectorType = "serial"
	ConnectorIP       ConnectorType = "ip"
	DefaultSerialBaud               = 115200
	DefaultIPPort                   = 2000

	DefaultHandshakeTimeoutMS = 10000
	DefaultResponseTimeoutMS  = 5000
	DefaultStopTimeoutMS      = 2000
	DefaultReadTimeoutMS      = 100
	DefaultMaxLineLength      = 4096
	minMaxLineLength          = 64

	DefaultSampleIntervalMS = 1000
	DefaultRetentionHours   = 72

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "text" or "json".
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
}

// SessionConfig tunes device session timing. Durations are milliseconds.
type SessionConfig struct {
	HandshakeTimeoutMS int  `json:"handshake_timeout_ms"`
	ResponseTimeoutMS  int  `json:"response_timeout_ms"`
	StopTimeoutMS      int  `json:"stop_timeout_ms"`
	ReadTimeoutMS      int  `json:"read_timeout_ms"`
	MaxLineLength      int  `json:"max_line_length"`
	SkipUnsolicited    bool `json:"skip_unsolicited"`
}

// RecorderConfig controls the local telemetry recorder.
type RecorderConfig struct {
	Enabled          bool `json:"enabled"`
	SampleIntervalMS int  `json:"sample_interval_ms"`
	RetentionHours   int  `json:"retention_hours"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled bool                     `json:"enabled"`
	Events  NotificationEventsConfig `json:"events"`
}

// NotificationEventsConfig stores per-event notification toggles.
type NotificationEventsConfig struct {
	Failsafe    bool `json:"failsafe"`
	FrameLost   bool `json:"frame_lost"`
	Connection  bool `json:"connection"`
	DeviceError bool `json:"device_error"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection"`
	Logging       LoggingConfig      `json:"logging"`
	Session       SessionConfig      `json:"session"`
	Recorder      RecorderConfig     `json:"recorder"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorSerial,
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
			Host:       "",
			Port:       DefaultIPPort,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    LogFormatText,
			LogToFile: false,
		},
		Session: SessionConfig{
			HandshakeTimeoutMS: DefaultHandshakeTimeoutMS,
			ResponseTimeoutMS:  DefaultResponseTimeoutMS,
			StopTimeoutMS:      DefaultStopTimeoutMS,
			ReadTimeoutMS:      DefaultReadTimeoutMS,
			MaxLineLength:      DefaultMaxLineLength,
			SkipUnsolicited:    false,
		},
		Recorder: RecorderConfig{
			Enabled:          false,
			SampleIntervalMS: DefaultSampleIntervalMS,
			RetentionHours:   DefaultRetentionHours,
		},
		Notifications: NotificationConfig{
			Enabled: false,
			Events: NotificationEventsConfig{
				Failsafe:    true,
				FrameLost:   true,
				Connection:  true,
				DeviceError: true,
			},
		},
	}
}

// Load reads the config file at path. A missing file yields defaults.
// Comments and trailing commas are accepted.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime or given on the command line.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(jsonc.ToJSON(raw), &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorSerial
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultIPPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
	c.Session = c.Session.WithDefaults()
	if c.Recorder.SampleIntervalMS <= 0 {
		c.Recorder.SampleIntervalMS = DefaultSampleIntervalMS
	}
	if c.Recorder.RetentionHours <= 0 {
		c.Recorder.RetentionHours = DefaultRetentionHours
	}
}

// WithDefaults replaces non-positive values with defaults.
func (s SessionConfig) WithDefaults() SessionConfig {
	if s.HandshakeTimeoutMS <= 0 {
		s.HandshakeTimeoutMS = DefaultHandshakeTimeoutMS
	}
	if s.ResponseTimeoutMS <= 0 {
		s.ResponseTimeoutMS = DefaultResponseTimeoutMS
	}
	if s.StopTimeoutMS <= 0 {
		s.StopTimeoutMS = DefaultStopTimeoutMS
	}
	if s.ReadTimeoutMS <= 0 {
		s.ReadTimeoutMS = DefaultReadTimeoutMS
	}
	if s.MaxLineLength <= 0 {
		s.MaxLineLength = DefaultMaxLineLength
	}

	return s
}

func (s SessionConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}

func (s SessionConfig) ResponseTimeout() time.Duration {
	return time.Duration(s.ResponseTimeoutMS) * time.Millisecond
}

func (s SessionConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutMS) * time.Millisecond
}

func (s SessionConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (r RecorderConfig) SampleInterval() time.Duration {
	return time.Duration(r.SampleIntervalMS) * time.Millisecond
}

func (r RecorderConfig) Retention() time.Duration {
	return time.Duration(r.RetentionHours) * time.Hour
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorIP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("ip host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("ip port out of range: %d", c.Connection.Port)
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	if c.Session.MaxLineLength < minMaxLineLength {
		return fmt.Errorf("max line length must be at least %d", minMaxLineLength)
	}
	if c.Session.ReadTimeoutMS > c.Session.StopTimeoutMS {
		return errors.New("read timeout must not exceed stop timeout")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
