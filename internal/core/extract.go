package core

import (
	"context"
	"encoding/json"
)

// OCRResult is the output of text extraction: the recognized text and an
// engine confidence in [0,1].
type OCRResult struct {
	Text       string
	Confidence float64
}

// TextExtractor runs OCR / text-layer extraction over raw file bytes. The
// mimeType hint selects the parsing strategy. May fail; the extraction
// stage treats failure as a degraded, not fatal, outcome.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (*OCRResult, error)
}

// StructuredExtractor pulls typed fields out of an image for a known
// document type (invoice, receipt, id card). Returns a JSON object that
// models.DecodeFields can interpret.
type StructuredExtractor interface {
	ExtractFields(ctx context.Context, data []byte, mimeType, docType string) (json.RawMessage, error)
}
