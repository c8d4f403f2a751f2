// Package validate checks fetched documents before expensive work.
package validate

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"translation-service/pkg/job"
)

var pdfSignature = []byte("%PDF-")

// Limits bounds what the pipeline will accept.
type Limits struct {
	MaxFileSize int64
	MaxPages    int
}

// PDF validates a fetched document and returns its page count. Checks run
// strictly in order and short-circuit on the first failure. Any failure is a
// ValidationError, which is terminal: it never consumes retry budget.
func PDF(data []byte, limits Limits) (int, error) {
	size := int64(len(data))
	if size > limits.MaxFileSize {
		return 0, &job.ValidationError{Reason: fmt.Sprintf(
			"file too large: %.1fMB (limit %.0fMB)",
			float64(size)/(1024*1024), float64(limits.MaxFileSize)/(1024*1024))}
	}

	if !bytes.HasPrefix(data, pdfSignature) {
		return 0, &job.ValidationError{Reason: "not a valid PDF file"}
	}

	pages, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, &job.ValidationError{Reason: fmt.Sprintf("unable to read PDF: %v", err)}
	}

	if pages == 0 {
		return 0, &job.ValidationError{Reason: "PDF has no pages"}
	}
	if pages > limits.MaxPages {
		return 0, &job.ValidationError{Reason: fmt.Sprintf(
			"too many pages: %d (limit %d)", pages, limits.MaxPages)}
	}
	return pages, nil
}

// PDFValidator wraps PDF with fixed limits so the executor can treat
// validation as a swappable policy.
type PDFValidator struct {
	Limits Limits
}

func (v PDFValidator) Validate(data []byte) (int, error) {
	return PDF(data, v.Limits)
}
