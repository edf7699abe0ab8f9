package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/polls"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/storage"
)

// PollSource loads persisted polls.
type PollSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
}

// Uploader writes export files to object storage.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	ExportsBucket() string
}

// Jobs is the queue surface the worker loop consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ExportDocument is the JSON file written for a completed poll.
type ExportDocument struct {
	polls.ResultsResponse
	Options    []models.Option `json:"options"`
	StartTime  *time.Time      `json:"startTime,omitempty"`
	EndedAt    *time.Time      `json:"endedAt,omitempty"`
	ExportedAt time.Time       `json:"exportedAt"`
}

// PollExportProcessor processes poll export jobs: load the poll, render its results, upload to S3.
type PollExportProcessor struct {
	polls  PollSource
	s3     Uploader
	queue  Jobs
	now    func() time.Time
	logger *zap.Logger
}

// NewPollExportProcessor creates a poll export processor.
func NewPollExportProcessor(src PollSource, s3 Uploader, q Jobs, logger *zap.Logger) *PollExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollExportProcessor{polls: src, s3: s3, queue: q, now: time.Now, logger: logger}
}

// Process executes one poll export job.
func (p *PollExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePollExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PollExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	poll, err := p.polls.GetByID(ctx, payload.PollID)
	if err != nil {
		return fmt.Errorf("load poll %s: %w", payload.PollID, err)
	}
	switch poll.Status {
	case models.PollCompleted:
	case models.PollCancelled:
		p.logger.Info("skipping export of cancelled poll", zap.String("poll_id", poll.ID.String()))
		return nil
	default:
		// The final state may not have been written yet; the retry picks it up.
		return fmt.Errorf("poll %s not yet completed (status %s)", poll.ID, poll.Status)
	}

	body, err := json.MarshalIndent(ExportDocument{
		ResultsResponse: polls.NewResultsResponse(*poll),
		Options:         poll.Options,
		StartTime:       poll.StartTime,
		EndedAt:         poll.EndedAt,
		ExportedAt:      p.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	key := storage.PollResultsKey(poll.ID.String())
	url, err := p.s3.Upload(ctx, p.s3.ExportsBucket(), key, storage.ContentTypeJSON, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("poll export completed", zap.String("poll_id", poll.ID.String()), zap.String("s3_key", key), zap.String("url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PollExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poll export worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, queue.RetryBackoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
