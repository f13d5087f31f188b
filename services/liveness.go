package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LivenessMonitor periodically checks that the sensor is still producing
// data. It is the only way the sensor is marked disconnected without a socket
// close, which covers links that die silently.
type LivenessMonitor struct {
	hub      *Hub
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLivenessMonitor creates a monitor that checks every interval and expires
// the sensor after timeout of silence.
func NewLivenessMonitor(hub *Hub, interval, timeout time.Duration, logger *zap.Logger) *LivenessMonitor {
	return &LivenessMonitor{
		hub:      hub,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start runs the check loop until ctx is cancelled.
func (m *LivenessMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Liveness monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Liveness monitor stopped")
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check runs a single liveness check.
func (m *LivenessMonitor) Check() bool {
	return m.hub.CheckLiveness(m.timeout)
}
