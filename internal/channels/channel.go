// Package channels connects external messaging platforms to the agent.
// Each connector normalizes platform events into bus.Envelope values
// and delivers replies back in the platform's format.
package channels

import (
	"context"
	"log/slog"
)

// Connector is one platform attachment. Start returns once the
// connector is receiving; delivery runs on its own goroutines.
type Connector interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager owns the configured connectors.
type Manager struct {
	connectors []Connector
	logger     *slog.Logger
}

func NewManager(logger *slog.Logger, connectors ...Connector) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{connectors: connectors, logger: logger}
}

// StartAll starts every connector. A connector that fails to start is
// logged and skipped so the others keep running.
func (m *Manager) StartAll(ctx context.Context) {
	for _, c := range m.connectors {
		if err := c.Start(ctx); err != nil {
			m.logger.Warn("channels.start_failed", "channel", c.Name(), "error", err)
			continue
		}
		m.logger.Info("channels.started", "channel", c.Name())
	}
}

// StopAll stops connectors in reverse start order.
func (m *Manager) StopAll(ctx context.Context) {
	for i := len(m.connectors) - 1; i >= 0; i-- {
		c := m.connectors[i]
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn("channels.stop_failed", "channel", c.Name(), "error", err)
		}
	}
}
