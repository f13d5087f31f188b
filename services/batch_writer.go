package services

import (
	"context"
	"errors"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"go.uber.org/zap"
)

// BatchWriter is the storage a BatchWriterService flushes into.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.Record) error
}

// BatchWriterService buffers records and writes them in batches, when the
// buffer is full or the batch timeout expires, whichever comes first. It is a
// RecordSink for the mirror.
type BatchWriterService struct {
	writer       BatchWriter
	logger       *zap.Logger
	incoming     chan *models.Record
	buffer       []*models.Record
	maxBatchSize int
	batchTimeout time.Duration
	stop         chan struct{}
	shutdownChan chan bool
}

// NewBatchWriterService creates a new batch writer service
func NewBatchWriterService(writer BatchWriter, maxBatchSize int, batchTimeout time.Duration, logger *zap.Logger) *BatchWriterService {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	return &BatchWriterService{
		writer:       writer,
		logger:       logger,
		incoming:     make(chan *models.Record, maxBatchSize),
		buffer:       make([]*models.Record, 0, maxBatchSize),
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		stop:         make(chan struct{}),
		shutdownChan: make(chan bool, 1),
	}
}

func (bw *BatchWriterService) Name() string { return "firebase" }

// Publish hands a record to the batching loop.
func (bw *BatchWriterService) Publish(ctx context.Context, rec *models.Record) error {
	select {
	case bw.incoming <- rec:
		return nil
	case <-bw.stop:
		return errors.New("batch writer stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the batching loop. It returns after Close, once the buffer is flushed.
func (bw *BatchWriterService) Run() {
	bw.logger.Info("Starting batch writer service",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	flushTimer := time.NewTimer(bw.batchTimeout)
	defer flushTimer.Stop()

	for {
		select {
		case <-bw.stop:
			bw.logger.Info("Batch writer received shutdown signal")
			bw.drainIncoming()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			bw.flushBuffer(ctx)
			cancel()
			bw.shutdownChan <- true
			return

		case rec := <-bw.incoming:
			bw.buffer = append(bw.buffer, rec)

			if len(bw.buffer) >= bw.maxBatchSize {
				bw.logger.Debug("Buffer full, flushing batch",
					zap.Int("buffer_size", len(bw.buffer)))

				if !flushTimer.Stop() {
					select {
					case <-flushTimer.C:
					default:
					}
				}

				bw.flushBuffer(context.Background())
				flushTimer.Reset(bw.batchTimeout)
			}

		case <-flushTimer.C:
			if len(bw.buffer) > 0 {
				bw.logger.Debug("Batch timeout reached, flushing batch",
					zap.Int("buffer_size", len(bw.buffer)))
				bw.flushBuffer(context.Background())
			}
			flushTimer.Reset(bw.batchTimeout)
		}
	}
}

// Close stops the loop and waits for the final flush.
func (bw *BatchWriterService) Close() error {
	close(bw.stop)
	if !bw.WaitForShutdown(15 * time.Second) {
		return errors.New("batch writer shutdown timed out")
	}
	return nil
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriterService) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (bw *BatchWriterService) drainIncoming() {
	for {
		select {
		case rec := <-bw.incoming:
			bw.buffer = append(bw.buffer, rec)
		default:
			return
		}
	}
}

// flushBuffer writes the current buffer and clears it
func (bw *BatchWriterService) flushBuffer(ctx context.Context) {
	if len(bw.buffer) == 0 {
		return
	}

	batch := make([]*models.Record, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	// Write batch with retry
	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.writer.WriteBatch(ctx, batch)
		if err == nil {
			bw.logger.Info("Successfully flushed batch",
				zap.Int("batch_size", len(batch)))
			return
		}

		bw.logger.Error("Failed to flush batch",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				attempt = maxRetries
			}
		}
	}

	// If all retries failed, log error (data will be lost)
	bw.logger.Error("Failed to flush batch after all retries, data lost",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}
