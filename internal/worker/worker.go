package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/live"
	"github.com/gradus-edu/live-backend/internal/models"
	"github.com/gradus-edu/live-backend/pkg/queue"
	"github.com/gradus-edu/live-backend/pkg/storage"
)

// RecordingProcessor consumes recording upload jobs: it streams the spooled
// file to S3, records the result, and removes the spool file.
type RecordingProcessor struct {
	queue  *queue.Queue
	store  live.Store
	s3     *storage.S3
	logger *zap.Logger
}

// NewRecordingProcessor creates the recording upload worker.
func NewRecordingProcessor(q *queue.Queue, store live.Store, s3 *storage.S3, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{queue: q, store: store, s3: s3, logger: logger}
}

// Run blocks consuming jobs until ctx is done. Transient failures are
// retried with backoff through the queue; jobs past the retry budget land
// in the dead-letter queue.
func (p *RecordingProcessor) Run(ctx context.Context) {
	p.logger.Info("recording worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recording worker stopped")
			return
		default:
		}
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("recording worker stopped")
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}
		if job.Type != queue.JobTypeRecordingUpload {
			p.logger.Warn("unknown job type", zap.String("type", string(job.Type)), zap.String("job_id", job.ID))
			continue
		}
		if err := p.process(ctx, job); err != nil {
			p.logger.Error("recording upload failed",
				zap.Error(err), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
			if err := p.queue.Retry(ctx, job); err != nil {
				p.logger.Error("retry enqueue failed", zap.Error(err), zap.String("job_id", job.ID))
			}
		}
	}
}

func (p *RecordingProcessor) process(ctx context.Context, job *queue.Job) error {
	var payload queue.RecordingUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Unparsable payloads can never succeed; drop without retry.
		p.logger.Error("invalid recording job payload", zap.Error(err), zap.String("job_id", job.ID))
		return nil
	}
	f, err := os.Open(payload.SpoolPath)
	if err != nil {
		// Spool file gone (host restart with tmp cleanup). Retrying cannot help.
		p.logger.Error("spool file missing, marking recording failed",
			zap.String("spool_path", payload.SpoolPath),
			zap.String("recording_id", payload.RecordingID.String()))
		_ = p.store.UpdateRecordingUpload(ctx, payload.RecordingID, "", "", 0, models.RecordingStatusFailed)
		return nil
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat spool file: %w", err)
	}
	key := storage.RecordingKey(payload.SessionID.String(), payload.RecordingID.String())
	url, err := p.s3.UploadRecording(ctx, key, payload.MimeType, f, stat.Size())
	if err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}
	if err := p.store.UpdateRecordingUpload(ctx, payload.RecordingID, url, key, stat.Size(), models.RecordingStatusCompleted); err != nil {
		return fmt.Errorf("record upload result: %w", err)
	}
	if err := os.Remove(payload.SpoolPath); err != nil {
		p.logger.Warn("spool file cleanup failed", zap.Error(err), zap.String("spool_path", payload.SpoolPath))
	}
	p.logger.Info("recording uploaded",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("s3_key", key),
		zap.Int64("bytes", stat.Size()))
	return nil
}
