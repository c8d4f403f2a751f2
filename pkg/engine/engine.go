// Package engine drives the external streaming translation engine. The engine
// itself is a collaborator; this package owns its event stream and decides
// which progress snapshots the rest of the pipeline gets to see.
package engine

import (
	"context"

	"translation-service/pkg/job"
)

type EventType string

const (
	EventProgressStart  EventType = "progress_start"
	EventProgressUpdate EventType = "progress_update"
	EventProgressEnd    EventType = "progress_end"
	EventError          EventType = "error"
	EventFinish         EventType = "finish"
)

// Event is one typed progress event from the engine's single-pass stream.
type Event struct {
	Type            EventType `json:"type"`
	OverallProgress float64   `json:"overall_progress"`
	Stage           string    `json:"stage"`
	StageCurrent    int       `json:"stage_current"`
	StageTotal      int       `json:"stage_total"`
	Message         string    `json:"error"`
	Result          *Result   `json:"translate_result"`
}

// Result carries paths to whichever output variants the engine produced.
type Result struct {
	MonoPath            string  `json:"mono_pdf_path"`
	DualPath            string  `json:"dual_pdf_path"`
	NoWatermarkMonoPath string  `json:"no_watermark_mono_pdf_path"`
	NoWatermarkDualPath string  `json:"no_watermark_dual_pdf_path"`
	Seconds             float64 `json:"total_seconds"`
}

// Settings configures one engine invocation.
type Settings struct {
	Mode      job.Mode
	LangIn    string
	LangOut   string
	OutputDir string
}

// Engine produces a lazy, single-consumer event stream for one input file.
// The channel is closed when the stream ends; cancelling the context ends it
// early.
type Engine interface {
	Translate(ctx context.Context, inputPath string, settings Settings) (<-chan Event, error)
}
