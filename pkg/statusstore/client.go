// Package statusstore persists job records through the record store's REST
// API. The persisted status column accepts a smaller enumeration than the
// pipeline's internal states, so statuses are narrowed before every write.
package statusstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"translation-service/pkg/job"
)

const (
	table           = "document_translations"
	maxErrorMessage = 1000
	requestTimeout  = 15 * time.Second
)

// Narrowing map from internal pipeline states to the values the stored
// status column accepts. Once written, cancelled and failed are
// indistinguishable; that information loss is intentional.
var statusMap = map[string]string{
	string(job.StatusQueued):      "pending",
	string(job.StatusDownloading): "extracting",
	string(job.StatusTranslating): "translating",
	string(job.StatusUploading):   "translating",
	string(job.StatusCompleted):   "completed",
	string(job.StatusFailed):      "failed",
	string(job.StatusCancelled):   "failed",
}

// Stored (narrowed) status values.
const (
	StoredPending     = "pending"
	StoredExtracting  = "extracting"
	StoredTranslating = "translating"
	StoredCompleted   = "completed"
	StoredFailed      = "failed"
)

// StoredTerminal reports whether a persisted status admits no further
// automatic transition.
func StoredTerminal(status string) bool {
	return status == StoredCompleted || status == StoredFailed
}

// Fields is a partial update; keys are column names.
type Fields map[string]any

// Record is a stored job record. Status carries the narrowed enumeration.
type Record struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	Mode            string  `json:"translation_mode"`
	Engine          string  `json:"translate_engine"`
	ProgressPercent int     `json:"progress_percent"`
	ProgressCurrent int     `json:"progress_current"`
	ProgressTotal   int     `json:"progress_total"`
	ArtifactURL     *string `json:"translated_pdf_url"`
	ErrorMessage    *string `json:"error_message"`
	TaskID          *string `json:"task_id"`
	RetryCount      int     `json:"retry_count"`
	SourceFileSize  int64   `json:"source_file_size"`
	SourcePageCount int     `json:"source_page_count"`
	StartedAt       *string `json:"started_at"`
	CompletedAt     *string `json:"completed_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
}

func (c *Client) rowURL(jobID, selectCols string) string {
	return fmt.Sprintf("%s/rest/v1/%s?job_id=eq.%s&select=%s",
		c.baseURL, table, url.QueryEscape(jobID), selectCols)
}

// Upsert creates or updates the record for jobID. Every call stamps
// updated_at and narrows the status before writing.
func (c *Client) Upsert(ctx context.Context, jobID string, fields Fields) error {
	data := make(Fields, len(fields)+2)
	for k, v := range fields {
		data[k] = v
	}
	data["job_id"] = jobID
	data["updated_at"] = c.now().UTC().Format(time.RFC3339)
	narrowStatus(data)

	exists, err := c.exists(ctx, jobID)
	if err != nil {
		return err
	}

	var req *http.Request
	if exists {
		body, merr := json.Marshal(data)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPatch,
			c.rowURL(jobID, "job_id"), bytes.NewReader(body))
	} else {
		applyInsertDefaults(data)
		body, merr := json.Marshal(data)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table), bytes.NewReader(body))
	}
	if err != nil {
		return err
	}
	c.headers(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("record store upsert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusNoContent {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		c.logger.Error("record store upsert failed",
			"job_id", jobID, "status_code", resp.StatusCode, "body", string(snippet))
		return fmt.Errorf("record store upsert: status %d", resp.StatusCode)
	}
	return nil
}

// Get returns the stored record, or nil when absent.
func (c *Client) Get(ctx context.Context, jobID string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rowURL(jobID, "*"), nil)
	if err != nil {
		return nil, err
	}
	c.headers(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record store get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("record store get failed", "job_id", jobID, "status_code", resp.StatusCode)
		return nil, nil
	}

	var rows []Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("record store get: decode: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MarkFailed writes a terminal failed record with a length-bounded message.
func (c *Client) MarkFailed(ctx context.Context, jobID, message string) error {
	return c.Upsert(ctx, jobID, Fields{
		"status":        job.StatusFailed,
		"error_message": Truncate(message, maxErrorMessage),
	})
}

// MarkCancelled writes the cancelled status, which narrows to failed in the
// stored enumeration.
func (c *Client) MarkCancelled(ctx context.Context, jobID string) error {
	return c.Upsert(ctx, jobID, Fields{
		"status":        job.StatusCancelled,
		"error_message": nil,
	})
}

func (c *Client) exists(ctx context.Context, jobID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rowURL(jobID, "job_id"), nil)
	if err != nil {
		return false, err
	}
	c.headers(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("record store lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return false, nil
	}
	return len(rows) > 0, nil
}

func narrowStatus(data Fields) {
	raw, ok := data["status"]
	if !ok {
		return
	}
	var s string
	switch v := raw.(type) {
	case job.Status:
		s = string(v)
	case string:
		s = v
	default:
		return
	}
	if mapped, ok := statusMap[s]; ok {
		data["status"] = mapped
	}
}

func applyInsertDefaults(data Fields) {
	defaults := Fields{
		"status":           StoredPending,
		"progress_percent": 0,
		"progress_current": 0,
		"progress_total":   0,
		"retry_count":      0,
	}
	for k, v := range defaults {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
}

// Truncate bounds persisted text to limit bytes.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
