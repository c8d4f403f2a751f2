// Package dispatch performs submission-time deduplication, routes jobs to
// their priority tier queue, and handles cancellation requests.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"translation-service/pkg/job"
	"translation-service/pkg/statusstore"
)

var (
	ErrNotFound     = errors.New("translation record not found")
	ErrInvalidState = errors.New("job is in a terminal state")
)

type Store interface {
	Get(ctx context.Context, jobID string) (*statusstore.Record, error)
	Upsert(ctx context.Context, jobID string, fields statusstore.Fields) error
	MarkCancelled(ctx context.Context, jobID string) error
}

type Publisher interface {
	PublishJob(ctx context.Context, msg job.Message) error
}

type CancelSignaler interface {
	Publish(ctx context.Context, jobID string) error
}

// Receipt is the handle returned for a submission.
type Receipt struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Existing bool   `json:"-"`
}

type Dispatcher struct {
	store      Store
	publisher  Publisher
	cancels    CancelSignaler
	engineName string
	logger     *slog.Logger
}

func New(store Store, publisher Publisher, cancels CancelSignaler, engineName string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if engineName == "" {
		engineName = "pdf2zh"
	}
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		cancels:    cancels,
		engineName: engineName,
		logger:     logger,
	}
}

// Submit is idempotent per (job id, mode): while an existing record for the
// pair is non-terminal, the existing handle is returned unchanged and nothing
// is enqueued. The check is advisory, not a distributed lock.
func (d *Dispatcher) Submit(ctx context.Context, sub job.Submission) (*Receipt, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	l := d.logger.With("job_id", sub.JobID, "mode", sub.Mode, "tier", sub.Tier)

	existing, err := d.store.Get(ctx, sub.JobID)
	if err != nil {
		// Treat an unreadable record as absent; the store is last-writer-wins.
		l.Warn("dedupe lookup failed, submitting anyway", "error", err)
	}
	if existing != nil && existing.Mode == string(sub.Mode) {
		switch existing.Status {
		case statusstore.StoredCompleted:
			return &Receipt{
				JobID:    sub.JobID,
				Status:   existing.Status,
				Message:  "translation already completed",
				Existing: true,
			}, nil
		case statusstore.StoredPending, statusstore.StoredExtracting, statusstore.StoredTranslating:
			l.Info("submission deduplicated", "status", existing.Status)
			return &Receipt{
				JobID:    sub.JobID,
				Status:   existing.Status,
				Message:  fmt.Sprintf("translation in progress (status: %s)", existing.Status),
				Existing: true,
			}, nil
		}
	}

	// Resubmission overwrites the record in place; nothing is ever deleted.
	if err := d.store.Upsert(ctx, sub.JobID, statusstore.Fields{
		"status":             job.StatusQueued,
		"translation_mode":   sub.Mode,
		"translate_engine":   d.engineName,
		"error_message":      nil,
		"translated_pdf_url": nil,
		"progress_percent":   0,
		"progress_current":   0,
		"progress_total":     0,
		"retry_count":        0,
	}); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	if err := d.publisher.PublishJob(ctx, job.Message{
		JobID:     sub.JobID,
		SourceRef: sub.SourceRef,
		Mode:      sub.Mode,
		Tier:      sub.Tier,
	}); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	l.Info("job dispatched")
	return &Receipt{JobID: sub.JobID, Status: string(job.StatusQueued), Message: "translation job submitted"}, nil
}

// Cancel signals the executing worker (best-effort) and marks the record
// cancelled. Rejected once the job is terminal. Side effects already in
// flight, such as an upload, may still complete.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	rec, err := d.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read job record: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}
	if statusstore.StoredTerminal(rec.Status) {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, rec.Status)
	}

	if err := d.cancels.Publish(ctx, jobID); err != nil {
		// The record is still marked; a queued delivery will be skipped.
		d.logger.Warn("cancel signal failed", "job_id", jobID, "error", err)
	}
	if err := d.store.MarkCancelled(ctx, jobID); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	d.logger.Info("job cancelled", "job_id", jobID)
	return nil
}
