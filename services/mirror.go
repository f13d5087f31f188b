package services

import (
	"context"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"go.uber.org/zap"
)

// RecordSink publishes records to an external system.
type RecordSink interface {
	Name() string
	Publish(ctx context.Context, rec *models.Record) error
	Close() error
}

// MirrorService copies every ingested record to the configured sinks. It
// runs apart from the hub: the hub only enqueues, and a slow or broken sink
// never delays broadcasts or the log store.
type MirrorService struct {
	sinks          []RecordSink
	records        chan *models.Record
	publishTimeout time.Duration
	logger         *zap.Logger
	shutdownChan   chan bool
}

// NewMirrorService creates a mirror with a bounded queue of buffer records.
func NewMirrorService(buffer int, logger *zap.Logger, sinks ...RecordSink) *MirrorService {
	return &MirrorService{
		sinks:          sinks,
		records:        make(chan *models.Record, buffer),
		publishTimeout: 5 * time.Second,
		logger:         logger,
		shutdownChan:   make(chan bool, 1),
	}
}

// Enqueue implements RecordMirror. A full queue drops the record.
func (m *MirrorService) Enqueue(rec *models.Record) {
	select {
	case m.records <- rec:
	default:
		m.logger.Warn("Mirror queue full, record not mirrored",
			zap.String("gas", string(rec.GasType)),
			zap.String("server_timestamp", rec.ServerTimestamp))
	}
}

// Start publishes queued records until ctx is cancelled, then drains what is
// left with a short deadline and closes the sinks.
func (m *MirrorService) Start(ctx context.Context) {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	m.logger.Info("Starting record mirror",
		zap.Strings("sinks", names),
		zap.Int("buffer", cap(m.records)))

	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.closeSinks()
			m.shutdownChan <- true
			return
		case rec := <-m.records:
			m.publish(context.Background(), rec)
		}
	}
}

// WaitForShutdown waits for the mirror to complete shutdown.
func (m *MirrorService) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-m.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *MirrorService) publish(parent context.Context, rec *models.Record) {
	for _, sink := range m.sinks {
		ctx, cancel := context.WithTimeout(parent, m.publishTimeout)
		err := sink.Publish(ctx, rec)
		cancel()
		if err != nil {
			m.logger.Error("Failed to mirror record",
				zap.String("sink", sink.Name()),
				zap.String("gas", string(rec.GasType)),
				zap.Error(err))
		}
	}
}

func (m *MirrorService) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	drained := 0
	for {
		select {
		case rec := <-m.records:
			m.publish(ctx, rec)
			drained++
		default:
			if drained > 0 {
				m.logger.Info("Mirror queue drained", zap.Int("records", drained))
			}
			return
		}
	}
}

func (m *MirrorService) closeSinks() {
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			m.logger.Error("Error closing sink",
				zap.String("sink", sink.Name()),
				zap.Error(err))
		}
	}
}
