package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"translation-service/pkg/job"
	"translation-service/pkg/statusstore"
)

// Throttle threshold: a progress snapshot is persisted only when the integer
// percent advanced by at least this much since the last persisted value, or
// the event is the stream's final progress event.
const progressStep = 2

// ProgressStore receives throttled progress snapshots.
type ProgressStore interface {
	Upsert(ctx context.Context, jobID string, fields statusstore.Fields) error
}

// Adapter consumes an engine's event stream for one attempt. It is the only
// consumer of the stream; the outer pipeline observes nothing but the
// snapshots it decides to persist.
type Adapter struct {
	engine Engine
	store  ProgressStore
	logger *slog.Logger
}

func NewAdapter(engine Engine, store ProgressStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, store: store, logger: logger}
}

// Run drives the engine for one input file and returns its result. An engine
// error event, or a stream that ends without a finish event, is an EngineError
// and therefore retryable.
func (a *Adapter) Run(ctx context.Context, jobID, inputPath string, settings Settings) (*Result, error) {
	events, err := a.engine.Translate(ctx, inputPath, settings)
	if err != nil {
		return nil, &job.EngineError{Msg: "failed to start", Err: err}
	}

	lastPersisted := 0
	for ev := range events {
		switch ev.Type {
		case EventProgressStart, EventProgressUpdate, EventProgressEnd:
			pct := int(ev.OverallProgress)
			if pct < lastPersisted && ev.Type != EventProgressEnd {
				continue // progress is monotonic within an attempt
			}
			if pct-lastPersisted >= progressStep || ev.Type == EventProgressEnd {
				lastPersisted = pct
				if err := a.store.Upsert(ctx, jobID, statusstore.Fields{
					"progress_percent": pct,
					"progress_current": ev.StageCurrent,
					"progress_total":   ev.StageTotal,
				}); err != nil {
					a.logger.Warn("progress write failed", "job_id", jobID, "error", err)
				}
				a.logger.Info("translation progress",
					"job_id", jobID,
					"stage", ev.Stage,
					"percent", pct,
					"step", fmt.Sprintf("%d/%d", ev.StageCurrent, ev.StageTotal))
			}

		case EventError:
			msg := ev.Message
			if msg == "" {
				msg = "unknown error"
			}
			a.logger.Error("engine reported failure", "job_id", jobID, "error", msg)
			return nil, &job.EngineError{Msg: msg}

		case EventFinish:
			if ev.Result == nil {
				return nil, &job.EngineError{Msg: "finish event without result"}
			}
			a.logger.Info("translation finished",
				"job_id", jobID, "seconds", ev.Result.Seconds)
			return ev.Result, nil
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &job.EngineError{Msg: "event stream ended without finish"}
}

// SelectOutput picks the artifact for the requested mode: the unwatermarked
// variant first, falling back to the watermarked one. A path the engine
// reported but never wrote counts as a failed attempt.
func SelectOutput(res *Result, mode job.Mode) (string, error) {
	var candidates []string
	switch mode {
	case job.ModeMono:
		candidates = []string{res.NoWatermarkMonoPath, res.MonoPath}
	default:
		candidates = []string{res.NoWatermarkDualPath, res.DualPath}
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &job.EngineError{Msg: fmt.Sprintf("finished without producing output (mode=%s)", mode)}
}
