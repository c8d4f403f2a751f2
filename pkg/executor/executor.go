// Package executor runs one full translation attempt per queue delivery:
// fetch → validate → translate → upload, persisting status at every stage
// boundary and applying the retry, timeout, and cancellation policy.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"translation-service/pkg/engine"
	"translation-service/pkg/job"
	"translation-service/pkg/statusstore"
	"translation-service/pkg/storage"
)

// Outcome tells the worker what to do with the broker delivery.
type Outcome int

const (
	// OutcomeCompleted: terminal success, ack.
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped: record already terminal (e.g. cancelled while queued), ack.
	OutcomeSkipped
	// OutcomeRetry: retryable failure with budget left; re-enqueue with delay, then ack.
	OutcomeRetry
	// OutcomeFailed: terminal failure written to the store, ack.
	OutcomeFailed
	// OutcomeCancelled: attempt context cancelled from outside.
	OutcomeCancelled
	// OutcomeRequeue: could not even read the job record; nack and let the
	// broker redeliver.
	OutcomeRequeue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetry:
		return "retried"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "requeued"
	}
}

// Result of one delivery. RetryCount is the job's attempt counter after this
// delivery; the worker uses it to pick the re-enqueue delay.
type Result struct {
	Outcome    Outcome
	RetryCount int
	Err        error
}

type StatusStore interface {
	Get(ctx context.Context, jobID string) (*statusstore.Record, error)
	Upsert(ctx context.Context, jobID string, fields statusstore.Fields) error
	MarkFailed(ctx context.Context, jobID, message string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type Validator interface {
	Validate(data []byte) (int, error)
}

type Translator interface {
	Run(ctx context.Context, jobID, inputPath string, settings engine.Settings) (*engine.Result, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, key string) (string, error)
}

// Options carries the pipeline policy knobs.
type Options struct {
	MaxRetries  int
	SoftTimeout time.Duration
	WorkDir     string
	LangIn      string
	LangOut     string
	EngineName  string
}

type Executor struct {
	store      StatusStore
	fetcher    Fetcher
	validator  Validator
	translator Translator
	uploader   Uploader
	opts       Options
	logger     *slog.Logger
}

func New(store StatusStore, fetcher Fetcher, validator Validator, translator Translator,
	uploader Uploader, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.EngineName == "" {
		opts.EngineName = "pdf2zh"
	}
	return &Executor{
		store:      store,
		fetcher:    fetcher,
		validator:  validator,
		translator: translator,
		uploader:   uploader,
		opts:       opts,
		logger:     logger,
	}
}

// Execute runs one attempt for a delivered job message. ctx is the attempt
// context the worker owns: the cancel bus or a shutdown may cancel it; Execute
// layers the soft deadline on top.
func (e *Executor) Execute(ctx context.Context, msg job.Message) Result {
	l := e.logger.With("job_id", msg.JobID, "mode", msg.Mode, "tier", msg.Tier)

	rec, err := e.store.Get(ctx, msg.JobID)
	if err != nil {
		l.Error("cannot read job record, requeueing delivery", "error", err)
		return Result{Outcome: OutcomeRequeue, Err: err}
	}
	if rec != nil && statusstore.StoredTerminal(rec.Status) {
		// Covers cancel-while-queued: the dispatcher marked the record and
		// this delivery must not start the pipeline.
		l.Info("record already terminal, skipping delivery", "status", rec.Status)
		return Result{Outcome: OutcomeSkipped}
	}

	retries := 0
	if rec != nil {
		retries = rec.RetryCount
	}
	attempt := retries + 1
	l.Info("starting translation attempt", "attempt", attempt, "max_attempts", e.opts.MaxRetries+1)

	runCtx, cancel := context.WithTimeout(ctx, e.opts.SoftTimeout)
	defer cancel()

	if err := e.run(runCtx, msg, retries, l); err != nil {
		return e.handleFailure(context.WithoutCancel(ctx), msg, retries, err, l)
	}
	return Result{Outcome: OutcomeCompleted, RetryCount: retries}
}

// run is one pipeline pass. Working storage is scoped to the attempt and
// released on every exit path.
func (e *Executor) run(ctx context.Context, msg job.Message, retries int, l *slog.Logger) error {
	taskDir, err := os.MkdirTemp(e.opts.WorkDir, "translate_"+shortID(msg.JobID)+"_")
	if err != nil {
		return fmt.Errorf("create attempt work dir: %w", err)
	}
	defer os.RemoveAll(taskDir)

	taskID := uuid.NewString()

	// Stage: downloading (validation runs inside this stage and has no
	// persisted state of its own). A new attempt resets progress and clears
	// any interim error or stale artifact reference.
	e.upsert(ctx, msg.JobID, statusstore.Fields{
		"status":             job.StatusDownloading,
		"task_id":            taskID,
		"translation_mode":   msg.Mode,
		"translate_engine":   e.opts.EngineName,
		"retry_count":        retries,
		"started_at":         time.Now().UTC().Format(time.RFC3339),
		"error_message":      nil,
		"translated_pdf_url": nil,
	}, l)

	data, err := e.fetcher.Fetch(ctx, msg.SourceRef)
	if err != nil {
		return err
	}
	l.Info("source document fetched", "bytes", len(data))

	pages, err := e.validator.Validate(data)
	if err != nil {
		return err
	}
	l.Info("validation ok", "pages", pages, "bytes", len(data))

	inputPath := filepath.Join(taskDir, msg.JobID+".pdf")
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return fmt.Errorf("write input file: %w", err)
	}

	// Stage: translating
	e.upsert(ctx, msg.JobID, statusstore.Fields{
		"status":            job.StatusTranslating,
		"source_file_size":  len(data),
		"source_page_count": pages,
		"progress_percent":  0,
		"progress_current":  0,
		"progress_total":    pages,
	}, l)

	res, err := e.translator.Run(ctx, msg.JobID, inputPath, engine.Settings{
		Mode:      msg.Mode,
		LangIn:    e.opts.LangIn,
		LangOut:   e.opts.LangOut,
		OutputDir: taskDir,
	})
	if err != nil {
		return err
	}

	// Stage: uploading
	e.upsert(ctx, msg.JobID, statusstore.Fields{
		"status":           job.StatusUploading,
		"progress_percent": 95,
	}, l)

	outPath, err := engine.SelectOutput(res, msg.Mode)
	if err != nil {
		return err
	}
	out, err := os.ReadFile(outPath)
	if err != nil {
		return &job.EngineError{Msg: "cannot read engine output", Err: err}
	}

	key := storage.ArtifactKey(msg.JobID, msg.Mode)
	artifactURL, err := e.uploader.Upload(ctx, out, key)
	if err != nil {
		return err
	}
	l.Info("artifact uploaded", "key", key, "bytes", len(out))

	e.upsert(ctx, msg.JobID, statusstore.Fields{
		"status":             job.StatusCompleted,
		"progress_percent":   100,
		"progress_current":   pages,
		"progress_total":     pages,
		"translated_pdf_url": artifactURL,
		"completed_at":       time.Now().UTC().Format(time.RFC3339),
		"error_message":      nil,
	}, l)
	l.Info("translation completed", "pages", pages, "artifact", artifactURL)
	return nil
}

// handleFailure applies the retry policy. ctx is detached from the attempt's
// cancellation so terminal writes still land after a timeout or cancel.
func (e *Executor) handleFailure(ctx context.Context, msg job.Message, retries int, cause error, l *slog.Logger) Result {
	switch job.Classify(cause) {
	case job.ClassTerminal:
		l.Error("validation failed", "error", cause)
		e.markFailed(ctx, msg.JobID, cause.Error(), l)
		return Result{Outcome: OutcomeFailed, RetryCount: retries, Err: cause}

	case job.ClassTimeout:
		l.Error("attempt exceeded soft deadline", "timeout", e.opts.SoftTimeout)
		e.markFailed(ctx, msg.JobID, fmt.Sprintf("translation timed out (limit %s)", e.opts.SoftTimeout), l)
		return Result{Outcome: OutcomeFailed, RetryCount: retries, Err: cause}

	case job.ClassCancelled:
		// The dispatcher already marked the record; nothing to overwrite.
		l.Info("attempt cancelled", "error", cause)
		return Result{Outcome: OutcomeCancelled, RetryCount: retries, Err: cause}
	}

	if retries >= e.opts.MaxRetries {
		l.Error("retry budget exhausted", "attempts", retries+1, "error", cause)
		e.markFailed(ctx, msg.JobID,
			fmt.Sprintf("translation failed after %d attempts: %v", retries+1, cause), l)
		return Result{Outcome: OutcomeFailed, RetryCount: retries, Err: cause}
	}

	next := retries + 1
	l.Warn("retryable failure, re-enqueueing", "attempt", retries+1, "error", cause)
	e.upsert(ctx, msg.JobID, statusstore.Fields{
		"retry_count":   next,
		"error_message": statusstore.Truncate(fmt.Sprintf("retrying: %v", cause), 1000),
	}, l)
	return Result{Outcome: OutcomeRetry, RetryCount: next, Err: cause}
}

// Status writes are best-effort: the store is last-writer-wins and a missed
// interim write is corrected by the next stage boundary.
func (e *Executor) upsert(ctx context.Context, jobID string, fields statusstore.Fields, l *slog.Logger) {
	if err := e.store.Upsert(ctx, jobID, fields); err != nil {
		l.Error("status write failed", "error", err)
	}
}

func (e *Executor) markFailed(ctx context.Context, jobID, message string, l *slog.Logger) {
	if err := e.store.MarkFailed(ctx, jobID, message); err != nil {
		l.Error("failed-status write failed", "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
