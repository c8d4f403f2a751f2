package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation-service/pkg/job"
	"translation-service/pkg/statusstore"
)

type scriptedEngine struct {
	events []Event
}

func (s *scriptedEngine) Translate(ctx context.Context, inputPath string, settings Settings) (<-chan Event, error) {
	ch := make(chan Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type recordingStore struct {
	writes []statusstore.Fields
}

func (r *recordingStore) Upsert(ctx context.Context, jobID string, fields statusstore.Fields) error {
	r.writes = append(r.writes, fields)
	return nil
}

func progress(t EventType, pct float64, cur, total int) Event {
	return Event{Type: t, OverallProgress: pct, Stage: "translate", StageCurrent: cur, StageTotal: total}
}

func persistedPercents(writes []statusstore.Fields) []int {
	out := make([]int, 0, len(writes))
	for _, w := range writes {
		out = append(out, w["progress_percent"].(int))
	}
	return out
}

func TestAdapterThrottlesProgressWrites(t *testing.T) {
	eng := &scriptedEngine{events: []Event{
		progress(EventProgressStart, 0, 0, 10),
		progress(EventProgressUpdate, 1, 1, 10),  // +1: suppressed
		progress(EventProgressUpdate, 3, 2, 10),  // +3: persisted
		progress(EventProgressUpdate, 4, 3, 10),  // +1: suppressed
		progress(EventProgressUpdate, 40, 5, 10), // +36: persisted
		progress(EventProgressEnd, 97, 10, 10),   // final: always persisted
		{Type: EventFinish, Result: &Result{Seconds: 1.5}},
	}}
	store := &recordingStore{}
	adapter := NewAdapter(eng, store, nil)

	res, err := adapter.Run(context.Background(), "j1", "/tmp/in.pdf", Settings{Mode: job.ModeDual})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []int{3, 40, 97}, persistedPercents(store.writes))
}

func TestAdapterAlwaysPersistsFinalProgress(t *testing.T) {
	// Even when the last step moved less than the threshold, the stream's
	// final progress event must land in the store.
	eng := &scriptedEngine{events: []Event{
		progress(EventProgressUpdate, 98, 9, 10),
		progress(EventProgressEnd, 99, 10, 10),
		{Type: EventFinish, Result: &Result{}},
	}}
	store := &recordingStore{}
	adapter := NewAdapter(eng, store, nil)

	_, err := adapter.Run(context.Background(), "j1", "in.pdf", Settings{Mode: job.ModeDual})
	require.NoError(t, err)
	assert.Equal(t, []int{98, 99}, persistedPercents(store.writes))
}

func TestAdapterErrorEventIsRetryable(t *testing.T) {
	eng := &scriptedEngine{events: []Event{
		progress(EventProgressStart, 0, 0, 10),
		{Type: EventError, Message: "font subsystem crashed"},
	}}
	adapter := NewAdapter(eng, &recordingStore{}, nil)

	_, err := adapter.Run(context.Background(), "j1", "in.pdf", Settings{Mode: job.ModeDual})
	require.Error(t, err)

	var ee *job.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Error(), "font subsystem crashed")
	assert.Equal(t, job.ClassRetryable, job.Classify(err))
}

func TestAdapterStreamEndsWithoutFinish(t *testing.T) {
	eng := &scriptedEngine{events: []Event{
		progress(EventProgressUpdate, 50, 5, 10),
	}}
	adapter := NewAdapter(eng, &recordingStore{}, nil)

	_, err := adapter.Run(context.Background(), "j1", "in.pdf", Settings{Mode: job.ModeDual})
	require.Error(t, err)
	var ee *job.EngineError
	assert.True(t, errors.As(err, &ee))
}

func TestSelectOutputPrefersUnwatermarked(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "dual.pdf")
	clean := filepath.Join(dir, "dual.nw.pdf")
	require.NoError(t, os.WriteFile(plain, []byte("w"), 0o600))
	require.NoError(t, os.WriteFile(clean, []byte("nw"), 0o600))

	res := &Result{DualPath: plain, NoWatermarkDualPath: clean}
	path, err := SelectOutput(res, job.ModeDual)
	require.NoError(t, err)
	assert.Equal(t, clean, path)
}

func TestSelectOutputFallsBackToWatermarked(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "mono.pdf")
	require.NoError(t, os.WriteFile(plain, []byte("w"), 0o600))

	res := &Result{MonoPath: plain, NoWatermarkMonoPath: filepath.Join(dir, "never-written.pdf")}
	path, err := SelectOutput(res, job.ModeMono)
	require.NoError(t, err)
	assert.Equal(t, plain, path)
}

func TestSelectOutputMissingFilesFailTheAttempt(t *testing.T) {
	dir := t.TempDir()
	res := &Result{
		DualPath:            filepath.Join(dir, "gone.pdf"),
		NoWatermarkDualPath: filepath.Join(dir, "also-gone.pdf"),
	}
	_, err := SelectOutput(res, job.ModeDual)
	require.Error(t, err)

	var ee *job.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, job.ClassRetryable, job.Classify(err))
}

func TestSelectOutputIgnoresOtherModeVariants(t *testing.T) {
	dir := t.TempDir()
	mono := filepath.Join(dir, "mono.pdf")
	require.NoError(t, os.WriteFile(mono, []byte("m"), 0o600))

	// Engine produced only mono output, but dual was requested.
	res := &Result{MonoPath: mono, NoWatermarkMonoPath: mono}
	_, err := SelectOutput(res, job.ModeDual)
	assert.Error(t, err)
}
