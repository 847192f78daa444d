package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
)

// GeminiVision extracts typed fields from document images with a
// multimodal prompt.
type GeminiVision struct {
	client    *genai.Client
	modelName string
}

var _ core.StructuredExtractor = (*GeminiVision)(nil)

func NewGeminiVision(ctx context.Context, apiKey, modelName string) (*GeminiVision, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, core.InvalidConfigf("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiVision{client: cl, modelName: modelName}, nil
}

func (g *GeminiVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// ExtractFields sends the image with a JSON-only prompt for the given doc
// type and validates the model replied with a decodable object.
func (g *GeminiVision) ExtractFields(ctx context.Context, data []byte, mimeType, docType string) (json.RawMessage, error) {
	prompt, err := fieldPrompt(docType)
	if err != nil {
		return nil, err
	}

	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx,
		genai.ImageData(imageFormat(mimeType), data),
		genai.Text(prompt),
	)
	if err != nil {
		return nil, core.Transientf(err, "gemini vision extract")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("vision extract: empty response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	raw := json.RawMessage(strings.TrimSpace(b.String()))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("vision extract: response is not valid JSON")
	}
	if _, err := models.DecodeFields(docType, raw); err != nil {
		return nil, fmt.Errorf("vision extract: %w", err)
	}
	return raw, nil
}

func fieldPrompt(docType string) (string, error) {
	var fields string
	switch docType {
	case models.DocTypeInvoice:
		fields = `"invoice_number", "vendor_name", "issue_date", "due_date", "currency", "total_amount" (number), "tax_amount" (number)`
	case models.DocTypeReceipt:
		fields = `"merchant_name", "date", "currency", "total_amount" (number), "payment_type"`
	case models.DocTypeIDCard:
		fields = `"full_name", "document_number", "date_of_birth", "expiry_date", "issuing_country"`
	default:
		return "", fmt.Errorf("unsupported doc type %q", docType)
	}
	return fmt.Sprintf(
		"Extract the following fields from this %s image and answer with a single JSON object containing exactly these keys: %s. Use empty strings or 0 for fields you cannot read. Dates as YYYY-MM-DD.",
		strings.ReplaceAll(docType, "_", " "), fields), nil
}

// imageFormat maps a MIME type to the genai image format suffix.
func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(mimeType, "image/")
	if format == mimeType || format == "" {
		return "png"
	}
	return format
}
