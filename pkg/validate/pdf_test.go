package validate

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation-service/pkg/job"
)

// buildPDF constructs a minimal but well-formed PDF with the given number of
// pages, computing the xref table offsets exactly.
func buildPDF(pages int) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, pages+2)

	buf.WriteString("%PDF-1.4\n")

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := &bytes.Buffer{}
	for i := 0; i < pages; i++ {
		if i > 0 {
			kids.WriteString(" ")
		}
		fmt.Fprintf(kids, "%d 0 R", i+3)
	}
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids.String(), pages))

	for i := 0; i < pages; i++ {
		writeObj(fmt.Sprintf(
			"%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n",
			i+3))
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xrefOffset)

	return buf.Bytes()
}

var testLimits = Limits{MaxFileSize: 50 * 1024 * 1024, MaxPages: 100}

func TestValidPDF(t *testing.T) {
	pages, err := PDF(buildPDF(3), testLimits)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
}

func TestOversizedFile(t *testing.T) {
	data := buildPDF(1)
	_, err := PDF(data, Limits{MaxFileSize: int64(len(data)) - 1, MaxPages: 100})
	require.Error(t, err)

	var ve *job.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Error(), "file too large")
	assert.Equal(t, job.ClassTerminal, job.Classify(err))
}

func TestBadSignature(t *testing.T) {
	_, err := PDF([]byte("GIF89a not a pdf"), testLimits)
	require.Error(t, err)

	var ve *job.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Error(), "not a valid PDF")
}

func TestStructurallyBrokenPDF(t *testing.T) {
	_, err := PDF([]byte("%PDF-1.4\ngarbage with no xref"), testLimits)
	require.Error(t, err)

	var ve *job.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestTooManyPages(t *testing.T) {
	// 150 pages against a 100-page limit: immediate terminal failure whose
	// message names the limit.
	_, err := PDF(buildPDF(150), testLimits)
	require.Error(t, err)

	var ve *job.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Error(), "150")
	assert.Contains(t, ve.Error(), "100")
	assert.Equal(t, job.ClassTerminal, job.Classify(err))
}

func TestPageLimitInclusive(t *testing.T) {
	pages, err := PDF(buildPDF(5), Limits{MaxFileSize: 50 * 1024 * 1024, MaxPages: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, pages)
}
