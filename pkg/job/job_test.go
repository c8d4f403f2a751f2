package job

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionValidate(t *testing.T) {
	valid := Submission{
		JobID:     "7b5dbf2e-48f5-4b2c-9c5f-2f8f2f8e1a01",
		SourceRef: "papers/abc/original.pdf",
		Mode:      ModeDual,
		Tier:      Tier2,
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.JobID = "not-a-uuid"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.SourceRef = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Mode = "triple"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Tier = "tier9"
	assert.Error(t, bad.Validate())

	// Defaults fill in when omitted
	defaulted := Submission{JobID: valid.JobID, SourceRef: valid.SourceRef}
	require.NoError(t, defaulted.Validate())
	assert.Equal(t, ModeDual, defaulted.Mode)
	assert.Equal(t, Tier1, defaulted.Tier)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []Status{StatusQueued, StatusDownloading, StatusTranslating, StatusUploading} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := Message{JobID: "id-1", SourceRef: "https://example.com/a.pdf", Mode: ModeMono, Tier: Tier3}
	data, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = DecodeMessage([]byte("{"))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"mode":"dual"}`))
	assert.Error(t, err, "missing job_id must be rejected")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"validation", &ValidationError{Reason: "too many pages"}, ClassTerminal},
		{"wrapped validation", fmt.Errorf("attempt: %w", &ValidationError{Reason: "x"}), ClassTerminal},
		{"storage", &StorageError{Op: "fetch"}, ClassRetryable},
		{"engine", &EngineError{Msg: "boom"}, ClassRetryable},
		{"fetch", &FetchError{Kind: FetchUnsafe, Ref: "http://10.0.0.5/x"}, ClassRetryable},
		{"soft timeout", fmt.Errorf("run: %w", context.DeadlineExceeded), ClassTimeout},
		{"cancelled", context.Canceled, ClassCancelled},
		{"unclassified", errors.New("nil pointer somewhere"), ClassRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
