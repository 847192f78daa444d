// Package ocr implements the text extraction port on sajari/docconv, which
// handles PDFs (with OCR fallback for scanned pages), images and office
// formats behind one Convert call.
package ocr

import (
	"bytes"
	"context"
	"strings"
	"unicode"

	"code.sajari.com/docconv"

	"github.com/docuflow-ai/docuflow/internal/core"
)

type DocconvExtractor struct {
	useReadability bool
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText converts the raw bytes into text. docconv reports no engine
// confidence, so the adapter scores the output by its printable-rune ratio:
// clean text layers score near 1, garbled OCR of low-quality scans scores
// noticeably lower.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, mimeType string) (*core.OCRResult, error) {
	type converted struct {
		res *docconv.Response
		err error
	}
	done := make(chan converted, 1)

	go func() {
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, e.useReadability)
		done <- converted{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, core.Transientf(ctx.Err(), "docconv convert")
	case c := <-done:
		if c.err != nil {
			return nil, core.Transientf(c.err, "docconv convert")
		}
		text := c.res.Body
		return &core.OCRResult{Text: text, Confidence: printableRatio(text)}, nil
	}
}

func printableRatio(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	printable := 0
	total := 0
	for _, r := range trimmed {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}
