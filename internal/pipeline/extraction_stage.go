package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
)

// Extraction progress checkpoints.
const (
	progressStarted    = 10
	progressDownloaded = 40
	progressOCRDone    = 70
	progressFieldsDone = 85
	progressPersisted  = 100
)

// ExtractionConfig tunes the extraction stage.
type ExtractionConfig struct {
	PerformOCR      bool
	DownloadTimeout time.Duration
	ExtractTimeout  time.Duration
}

// ExtractionResult reports what a successful extraction run produced.
type ExtractionResult struct {
	TextChars  int
	Confidence float64
	HasFields  bool
}

// ExtractionStage downloads a document's raw bytes, runs OCR and optional
// structured extraction, sanitizes the text and persists the outcome.
// OCR and vision failures degrade the result instead of failing the stage;
// everything before the final persist fails the document.
type ExtractionStage struct {
	db     core.DbClient
	obj    core.ObjectClient
	ocr    core.TextExtractor
	vision core.StructuredExtractor
	cfg    ExtractionConfig
	log    *slog.Logger
}

// NewExtractionStage wires the stage. vision may be nil when structured
// extraction is disabled.
func NewExtractionStage(db core.DbClient, obj core.ObjectClient, ocr core.TextExtractor, vision core.StructuredExtractor, cfg ExtractionConfig, log *slog.Logger) *ExtractionStage {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 2 * time.Minute
	}
	return &ExtractionStage{db: db, obj: obj, ocr: ocr, vision: vision, cfg: cfg, log: log}
}

// Run executes the extraction stage for one document. report receives
// coarse 0-100 checkpoints.
func (s *ExtractionStage) Run(ctx context.Context, documentID, orgID string, report func(int)) (*ExtractionResult, error) {
	if report == nil {
		report = func(int) {}
	}
	log := s.log.With("document_id", documentID, "org_id", orgID)

	// A document without a tenant is a programmer error. Fail fast, no
	// retry, no status mutation.
	if strings.TrimSpace(orgID) == "" {
		return nil, core.InvalidConfigf("extraction requires a tenant, document %s has none", documentID)
	}

	if err := s.db.SetDocumentStatus(ctx, documentID, orgID, models.StatusProcessing); err != nil {
		return nil, err
	}
	report(progressStarted)

	// Re-fetch scoped by (id, org). A document visible under the wrong
	// tenant is NotFound, never processed.
	doc, err := s.db.GetDocument(ctx, documentID, orgID)
	if err != nil {
		return nil, s.fail(ctx, documentID, orgID, err)
	}
	if doc == nil {
		return nil, s.fail(ctx, documentID, orgID, core.NotFoundf("document %s in org %s", documentID, orgID))
	}

	data, err := s.download(ctx, doc.StoragePath)
	if err != nil {
		return nil, s.fail(ctx, documentID, orgID, err)
	}
	report(progressDownloaded)
	log.Debug("download complete", "bytes", len(data))

	var (
		ocrText *string
		ocrConf *float64
		text    string
		conf    float64
	)
	if s.cfg.PerformOCR && isOCRMime(doc.MimeType) {
		res, ocrErr := s.extractText(ctx, data, doc.MimeType)
		if ocrErr != nil {
			// A scanned file with no extractable layer is a legitimate
			// terminal state; OCR failure never fails the stage.
			log.Warn("ocr failed, continuing without text", "error", ocrErr)
		} else {
			text = sanitizeText(res.Text)
			conf = res.Confidence
			ocrText = &text
			ocrConf = &conf
		}
	}
	report(progressOCRDone)

	var fields json.RawMessage
	if s.vision != nil && doc.DocType != "" && strings.HasPrefix(doc.MimeType, "image/") && len(text) > 50 {
		// Structured extraction on near-empty OCR output wastes a paid call
		// and returns noise, hence the length gate.
		fields, err = s.extractFields(ctx, data, doc.MimeType, doc.DocType)
		if err != nil {
			log.Warn("structured extraction failed, continuing without fields", "error", err)
			fields = nil
		}
	}
	report(progressFieldsDone)

	upd := &models.ExtractionUpdate{
		DocumentID:      documentID,
		OrgID:           orgID,
		OCRText:         ocrText,
		OCRConfidence:   ocrConf,
		ExtractedFields: fields,
		ProcessedAt:     time.Now(),
	}
	if err := s.db.SaveExtractionResult(ctx, upd); err != nil {
		return nil, s.fail(ctx, documentID, orgID, err)
	}
	report(progressPersisted)
	log.Info("extraction complete", "chars", len(text), "confidence", conf, "has_fields", fields != nil)

	return &ExtractionResult{TextChars: len(text), Confidence: conf, HasFields: fields != nil}, nil
}

func (s *ExtractionStage) download(ctx context.Context, storagePath string) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	data, err := s.obj.GetFile(dctx, storagePath)
	if err != nil {
		return nil, core.Transientf(err, "download "+storagePath)
	}
	return data, nil
}

func (s *ExtractionStage) extractText(ctx context.Context, data []byte, mimeType string) (*core.OCRResult, error) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()
	return s.ocr.ExtractText(octx, data, mimeType)
}

func (s *ExtractionStage) extractFields(ctx context.Context, data []byte, mimeType, docType string) (json.RawMessage, error) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()
	return s.vision.ExtractFields(vctx, data, mimeType, docType)
}

// fail records the terminal failed state with its cause and passes the
// error through for the queue's retry policy.
func (s *ExtractionStage) fail(ctx context.Context, documentID, orgID string, cause error) error {
	if err := s.db.SetDocumentFailed(ctx, documentID, orgID, cause.Error()); err != nil {
		s.log.Error("could not record document failure", "document_id", documentID, "error", err)
	}
	return cause
}

func isOCRMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf"
}

// sanitizeText strips null bytes and ASCII control characters except tab,
// newline and carriage return, then trims surrounding whitespace.
func sanitizeText(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(cleaned)
}
