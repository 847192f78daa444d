package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/core/memstore"
	"github.com/docuflow-ai/docuflow/internal/models"
)

func extractionFixture(t *testing.T) (*memstore.Store, *fakeObject, *fakeOCR, *fakeVision) {
	t.Helper()
	return memstore.New(), newFakeObject(), &fakeOCR{text: "Invoice #42 from ACME Corp, total due 1,200.00 EUR by 2026-09-30.", confidence: 0.92}, &fakeVision{fields: []byte(`{"invoice_number":"42","total":"1200.00"}`)}
}

func putObject(t *testing.T, obj *fakeObject, key string) {
	t.Helper()
	if _, err := obj.UploadFile(context.Background(), key, strings.NewReader("%PDF-1.4 raw bytes"), "application/pdf"); err != nil {
		t.Fatal(err)
	}
}

func TestExtractionStageRun(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path persists text and completes the document", func(t *testing.T) {
		store, obj, ocrFake, vision := extractionFixture(t)
		doc := seedDocument(store, "doc-1", "org-a", "application/pdf", "", nil)
		putObject(t, obj, doc.StoragePath)

		stage := NewExtractionStage(store, obj, ocrFake, vision, ExtractionConfig{PerformOCR: true}, testLogger())

		var checkpoints []int
		res, err := stage.Run(ctx, doc.ID, doc.OrgID, func(pct int) { checkpoints = append(checkpoints, pct) })
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
		if res.TextChars == 0 || res.Confidence != 0.92 {
			t.Fatalf("unexpected result %+v", res)
		}

		got, _ := store.GetDocument(ctx, doc.ID, doc.OrgID)
		if got.Status != models.StatusCompleted {
			t.Fatalf("status = %q, want completed", got.Status)
		}
		if got.OCRText == nil || !strings.Contains(*got.OCRText, "Invoice #42") {
			t.Fatal("extracted text not persisted")
		}
		if got.ProcessedAt == nil {
			t.Fatal("processed timestamp not set")
		}

		want := []int{10, 40, 70, 85, 100}
		if len(checkpoints) != len(want) {
			t.Fatalf("checkpoints = %v, want %v", checkpoints, want)
		}
		for i := range want {
			if checkpoints[i] != want[i] {
				t.Fatalf("checkpoints = %v, want %v", checkpoints, want)
			}
		}
	})

	t.Run("ocr failure degrades to completed without text", func(t *testing.T) {
		store, obj, _, _ := extractionFixture(t)
		doc := seedDocument(store, "doc-2", "org-a", "image/png", "", nil)
		putObject(t, obj, doc.StoragePath)

		failing := &fakeOCR{err: errors.New("unreadable scan")}
		stage := NewExtractionStage(store, obj, failing, nil, ExtractionConfig{PerformOCR: true}, testLogger())

		res, err := stage.Run(ctx, doc.ID, doc.OrgID, nil)
		if err != nil {
			t.Fatalf("Run returned %v, want graceful degradation", err)
		}
		if res.TextChars != 0 {
			t.Fatalf("TextChars = %d, want 0", res.TextChars)
		}

		got, _ := store.GetDocument(ctx, doc.ID, doc.OrgID)
		if got.Status != models.StatusCompleted {
			t.Fatalf("status = %q, want completed", got.Status)
		}
		if got.OCRText != nil {
			t.Fatal("text should stay unset after OCR failure")
		}
	})

	t.Run("download failure marks the document failed with its cause", func(t *testing.T) {
		store, obj, ocrFake, _ := extractionFixture(t)
		doc := seedDocument(store, "doc-3", "org-a", "application/pdf", "", nil)
		obj.getErr = errors.New("connection reset")

		stage := NewExtractionStage(store, obj, ocrFake, nil, ExtractionConfig{PerformOCR: true}, testLogger())

		_, err := stage.Run(ctx, doc.ID, doc.OrgID, nil)
		if !errors.Is(err, core.ErrTransient) {
			t.Fatalf("Run returned %v, want transient", err)
		}

		got, _ := store.GetDocument(ctx, doc.ID, doc.OrgID)
		if got.Status != models.StatusFailed {
			t.Fatalf("status = %q, want failed", got.Status)
		}
		if got.ProcessingError == nil || !strings.Contains(*got.ProcessingError, "connection reset") {
			t.Fatal("failure cause not recorded on the document")
		}
	})

	t.Run("missing tenant fails fast without touching the document", func(t *testing.T) {
		store, obj, ocrFake, _ := extractionFixture(t)
		doc := seedDocument(store, "doc-4", "org-a", "application/pdf", "", nil)
		putObject(t, obj, doc.StoragePath)

		stage := NewExtractionStage(store, obj, ocrFake, nil, ExtractionConfig{PerformOCR: true}, testLogger())

		_, err := stage.Run(ctx, doc.ID, "", nil)
		if !errors.Is(err, core.ErrInvalidConfig) {
			t.Fatalf("Run returned %v, want invalid config", err)
		}

		got, _ := store.GetDocument(ctx, doc.ID, doc.OrgID)
		if got.Status != models.StatusPending {
			t.Fatalf("status = %q, want pending untouched", got.Status)
		}
	})

	t.Run("document is invisible under another org", func(t *testing.T) {
		store, obj, ocrFake, _ := extractionFixture(t)
		doc := seedDocument(store, "doc-5", "org-a", "application/pdf", "", nil)
		putObject(t, obj, doc.StoragePath)

		stage := NewExtractionStage(store, obj, ocrFake, nil, ExtractionConfig{PerformOCR: true}, testLogger())

		_, err := stage.Run(ctx, doc.ID, "org-b", nil)
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("Run returned %v, want not found", err)
		}
		if ocrFake.calls != 0 {
			t.Fatal("another org's document was processed")
		}

		got, _ := store.GetDocument(ctx, doc.ID, "org-a")
		if got.Status != models.StatusPending {
			t.Fatalf("owner's document mutated to %q", got.Status)
		}
	})

	t.Run("structured fields extracted for typed images with enough text", func(t *testing.T) {
		store, obj, ocrFake, vision := extractionFixture(t)
		doc := seedDocument(store, "doc-6", "org-a", "image/jpeg", models.DocTypeInvoice, nil)
		putObject(t, obj, doc.StoragePath)

		stage := NewExtractionStage(store, obj, ocrFake, vision, ExtractionConfig{PerformOCR: true}, testLogger())

		res, err := stage.Run(ctx, doc.ID, doc.OrgID, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !res.HasFields || vision.calls != 1 {
			t.Fatalf("structured extraction skipped: %+v, %d vision calls", res, vision.calls)
		}

		got, _ := store.GetDocument(ctx, doc.ID, doc.OrgID)
		if got.ExtractedFields == nil {
			t.Fatal("fields not persisted")
		}
	})

	t.Run("vision failure keeps the text result", func(t *testing.T) {
		store, obj, ocrFake, _ := extractionFixture(t)
		doc := seedDocument(store, "doc-7", "org-a", "image/jpeg", models.DocTypeReceipt, nil)
		putObject(t, obj, doc.StoragePath)

		vision := &fakeVision{err: errors.New("model overloaded")}
		stage := NewExtractionStage(store, obj, ocrFake, vision, ExtractionConfig{PerformOCR: true}, testLogger())

		res, err := stage.Run(ctx, doc.ID, doc.OrgID, nil)
		if err != nil {
			t.Fatalf("Run returned %v, want text-only success", err)
		}
		if res.HasFields {
			t.Fatal("HasFields true after vision failure")
		}
		if res.TextChars == 0 {
			t.Fatal("text lost alongside the vision failure")
		}
	})

	t.Run("vision skipped for untyped documents", func(t *testing.T) {
		store, obj, ocrFake, vision := extractionFixture(t)
		doc := seedDocument(store, "doc-8", "org-a", "image/png", "", nil)
		putObject(t, obj, doc.StoragePath)

		stage := NewExtractionStage(store, obj, ocrFake, vision, ExtractionConfig{PerformOCR: true}, testLogger())
		if _, err := stage.Run(ctx, doc.ID, doc.OrgID, nil); err != nil {
			t.Fatal(err)
		}
		if vision.calls != 0 {
			t.Fatal("vision called for a document without a type")
		}
	})
}

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"strips null bytes", "he\x00llo", "hello"},
		{"keeps tabs and newlines", "a\tb\nc\r\n", "a\tb\nc"},
		{"strips other control chars", "a\x01\x02b\x7fc", "abc"},
		{"trims surrounding whitespace", "  text  \n", "text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeText(tc.in); got != tc.want {
				t.Errorf("sanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
