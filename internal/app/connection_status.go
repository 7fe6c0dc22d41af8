package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/connectors"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorIP:
		return "ip"
	case config.ConnectorSerial:
		return "serial"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

func ConnectionTarget(cfg config.ConnectionConfig) string {
	switch cfg.Connector {
	case config.ConnectorIP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return ""
		}
		return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	case config.ConnectorSerial:
		port := strings.TrimSpace(cfg.SerialPort)
		if port == "" {
			return ""
		}
		return fmt.Sprintf("%s@%d", port, cfg.SerialBaud)
	default:
		return ""
	}
}

func ConnectionStatusFromConfig(cfg config.ConnectionConfig) connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
}
