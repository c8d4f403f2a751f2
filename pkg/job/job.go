package job

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Mode string
type Tier string
type Status string

const (
	ModeMono Mode = "mono"
	ModeDual Mode = "dual"
)

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
)

// Internal pipeline statuses. The status store narrows these before writing;
// see statusstore.
const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusTranslating Status = "translating"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

func (m Mode) Valid() bool {
	return m == ModeMono || m == ModeDual
}

func (t Tier) Valid() bool {
	return t == Tier1 || t == Tier2 || t == Tier3
}

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Submission is one request to translate one document in one mode.
type Submission struct {
	JobID     string `json:"job_id"`
	SourceRef string `json:"file_url"`
	Mode      Mode   `json:"mode"`
	Tier      Tier   `json:"tier"`
}

func (s *Submission) Validate() error {
	if _, err := uuid.Parse(s.JobID); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("job_id must be a valid UUID: %v", err)}
	}
	if s.SourceRef == "" {
		return &ValidationError{Reason: "file_url is required"}
	}
	if s.Mode == "" {
		s.Mode = ModeDual
	}
	if !s.Mode.Valid() {
		return &ValidationError{Reason: "mode must be one of mono, dual"}
	}
	if s.Tier == "" {
		s.Tier = Tier1
	}
	if !s.Tier.Valid() {
		return &ValidationError{Reason: "tier must be one of tier1, tier2, tier3"}
	}
	return nil
}

// Message is the queue payload for one job. The record store holds everything
// else; the message carries only what an attempt needs to start.
type Message struct {
	JobID     string `json:"job_id"`
	SourceRef string `json:"file_url"`
	Mode      Mode   `json:"mode"`
	Tier      Tier   `json:"tier"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed job message: %w", err)
	}
	if m.JobID == "" {
		return Message{}, fmt.Errorf("job message missing job_id")
	}
	return m, nil
}
