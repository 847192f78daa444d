package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/core/memstore"
	"github.com/docuflow-ai/docuflow/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeObject is an in-memory core.ObjectClient keyed by storage path.
type fakeObject struct {
	mu     sync.Mutex
	files  map[string][]byte
	getErr error
}

func newFakeObject() *fakeObject {
	return &fakeObject{files: make(map[string][]byte)}
}

func (f *fakeObject) UploadFile(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = data
	return key, nil
}

func (f *fakeObject) GetFile(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.files[key]
	if !ok {
		return nil, core.NotFoundf("object %s", key)
	}
	return data, nil
}

func (f *fakeObject) DeleteFile(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	return nil
}

// fakeOCR returns a fixed result or error for every input.
type fakeOCR struct {
	text       string
	confidence float64
	err        error
	calls      int
}

func (f *fakeOCR) ExtractText(context.Context, []byte, string) (*core.OCRResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &core.OCRResult{Text: f.text, Confidence: f.confidence}, nil
}

// fakeVision returns fixed structured fields or an error.
type fakeVision struct {
	fields json.RawMessage
	err    error
	calls  int
}

func (f *fakeVision) ExtractFields(context.Context, []byte, string, string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

// fakeEmbedder returns unit basis vectors, optionally failing the first
// failUntil calls.
type fakeEmbedder struct {
	mu        sync.Mutex
	dim       int
	calls     int
	failUntil int
	failWith  error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return nil, f.failWith
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		vecs[i] = vec
	}
	return vecs, nil
}

func seedDocument(store *memstore.Store, id, orgID, mimeType, docType string, ocrText *string) *models.Document {
	now := time.Now()
	doc := &models.Document{
		ID:           id,
		OrgID:        orgID,
		UserID:       "user-" + orgID,
		OriginalName: "sample.pdf",
		MimeType:     mimeType,
		StoragePath:  orgID + "/" + id + "/sample.pdf",
		DocType:      docType,
		Status:       models.StatusPending,
		OCRText:      ocrText,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_ = store.CreateDocument(context.Background(), doc)
	return doc
}
