package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestLivenessMonitorExpiresSilentSensor(t *testing.T) {
	logger := zaptest.NewLogger(t)
	hub := NewHub(&memStore{}, NewExtremaTracker(), logger)
	sensor := NewPeer("sensor", 4)
	hub.Register(sensor)
	hub.HandleMessage(sensor, []byte(`{"status":"ok"}`))
	if !hub.Snapshot().Status.Connected {
		t.Fatalf("heartbeat should connect the sensor")
	}

	monitor := NewLivenessMonitor(hub, 10*time.Millisecond, 30*time.Millisecond, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(done)
	}()

	waitFor(t, "the sensor to time out", func() bool { return !hub.Snapshot().Status.Connected })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop")
	}
}

func TestLivenessCheckWithoutSensor(t *testing.T) {
	hub := NewHub(&memStore{}, NewExtremaTracker(), zaptest.NewLogger(t))
	monitor := NewLivenessMonitor(hub, time.Second, 10*time.Second, zaptest.NewLogger(t))
	if monitor.Check() {
		t.Fatalf("nothing to expire before the sensor ever connected")
	}
}
