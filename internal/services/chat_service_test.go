package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/core/memstore"
	"github.com/docuflow-ai/docuflow/internal/models"
)

// stubEmbedder maps known texts to fixed vectors; anything else gets def.
type stubEmbedder struct {
	vecs map[string][]float32
	def  []float32
	err  error
}

func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := s.vecs[text]; ok {
			out[i] = vec
		} else {
			out[i] = s.def
		}
	}
	return out, nil
}

// stubLLM records the prompts it sees and returns a canned answer.
type stubLLM struct {
	answer      string
	err         error
	lastSystem  string
	lastUser    string
	generations int
}

func (s *stubLLM) Generate(_ context.Context, systemPrompt, userPrompt string, _ float32) (string, error) {
	s.generations++
	s.lastSystem = systemPrompt
	s.lastUser = userPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func chatFixture(t *testing.T) (*memstore.Store, *stubEmbedder, *stubLLM, *ChatService) {
	t.Helper()
	store := memstore.New()
	embedder := &stubEmbedder{
		vecs: map[string][]float32{
			"how much is the invoice?": {1, 0, 0},
			"something unrelated":      {0, 0, 1},
		},
		def: []float32{0.5, 0.5, 0},
	}
	llm := &stubLLM{answer: "The invoice total is 1,200.00 EUR."}
	svc := NewChatService(store, embedder, llm, ChatConfig{
		MaxContextChunks: 5,
		SimilarityFloor:  0.25,
		HistoryWindow:    6,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return store, embedder, llm, svc
}

func seedChunks(t *testing.T, store *memstore.Store, docID, orgID string, chunks ...models.EmbeddingChunk) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	doc := &models.Document{
		ID: docID, OrgID: orgID, UserID: "user-" + orgID,
		OriginalName: docID + ".pdf", MimeType: "application/pdf",
		StoragePath: orgID + "/" + docID, Status: models.StatusCompleted,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	for i := range chunks {
		chunks[i].DocumentID = docID
		chunks[i].OrgID = orgID
		chunks[i].ChunkIndex = i
		chunks[i].ID = docID + "-" + string(rune('a'+i))
	}
	if err := store.ReplaceDocumentChunks(ctx, docID, orgID, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestChatServiceSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("empty message is rejected before any work", func(t *testing.T) {
		_, _, llm, svc := chatFixture(t)
		_, err := svc.SendMessage(ctx, SendMessageInput{UserID: "u1", OrgID: "org-a", Message: "   "})
		if !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("got %v, want ErrEmptyMessage", err)
		}
		if llm.generations != 0 {
			t.Fatal("LLM called for an empty message")
		}
	})

	t.Run("grounded answer with the best chunk first", func(t *testing.T) {
		store, _, llm, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "Invoice total: 1,200.00 EUR", Embedding: []float32{1, 0, 0}},
			models.EmbeddingChunk{Content: "Shipping terms and conditions", Embedding: []float32{0, 1, 0}},
		)

		out, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?",
		})
		if err != nil {
			t.Fatal(err)
		}
		if out.Answer == "" || out.ChatID == "" {
			t.Fatalf("incomplete output %+v", out)
		}
		if len(out.Sources) == 0 {
			t.Fatal("no sources attached to a grounded answer")
		}
		if out.Sources[0].Content != "Invoice total: 1,200.00 EUR" {
			t.Fatalf("top source = %q, want the invoice chunk", out.Sources[0].Content)
		}
		if !strings.Contains(llm.lastUser, "Invoice total") {
			t.Fatal("retrieved chunk missing from the prompt")
		}

		// The whole turn persisted: session plus both messages.
		detail, err := svc.GetChat(ctx, out.ChatID, "u1", "org-a")
		if err != nil {
			t.Fatal(err)
		}
		if len(detail.Messages) != 2 {
			t.Fatalf("persisted %d messages, want user+assistant", len(detail.Messages))
		}
		if detail.Messages[0].Role != models.RoleUser || detail.Messages[1].Role != models.RoleAssistant {
			t.Fatal("messages persisted out of role order")
		}
		if len(detail.Messages[1].Sources) == 0 {
			t.Fatal("assistant message lost its source snapshot")
		}
	})

	t.Run("chunks below the floor are dropped, answer still given", func(t *testing.T) {
		store, _, llm, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "Invoice total: 1,200.00 EUR", Embedding: []float32{1, 0, 0}},
		)

		out, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "something unrelated",
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(out.Sources) != 0 {
			t.Fatalf("irrelevant chunks forced into context: %d sources", len(out.Sources))
		}
		if out.Answer == "" {
			t.Fatal("no answer without context")
		}
		if !strings.Contains(llm.lastUser, "No document context matched") {
			t.Fatal("prompt does not flag the missing context")
		}
	})

	t.Run("another org's chunks never surface", func(t *testing.T) {
		store, _, _, svc := chatFixture(t)
		seedChunks(t, store, "doc-theirs", "org-b",
			models.EmbeddingChunk{Content: "org-b confidential figures", Embedding: []float32{1, 0, 0}},
		)

		out, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?",
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, src := range out.Sources {
			if strings.Contains(src.Content, "confidential") {
				t.Fatal("cross-tenant chunk leaked into sources")
			}
		}
	})

	t.Run("document-anchored session only retrieves from that document", func(t *testing.T) {
		store, _, _, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "doc-1 invoice detail", Embedding: []float32{1, 0, 0}},
		)
		seedChunks(t, store, "doc-2", "org-a",
			models.EmbeddingChunk{Content: "doc-2 other material", Embedding: []float32{1, 0, 0}},
		)

		out, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?", DocumentID: "doc-1",
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(out.Sources) == 0 {
			t.Fatal("no sources for a scoped query")
		}
		for _, src := range out.Sources {
			if src.DocumentID != "doc-1" {
				t.Fatalf("scoped query returned chunk from %s", src.DocumentID)
			}
		}

		// The anchor survives follow-up turns.
		out2, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?", ChatID: out.ChatID,
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, src := range out2.Sources {
			if src.DocumentID != "doc-1" {
				t.Fatalf("anchored session drifted to document %s", src.DocumentID)
			}
		}
	})

	t.Run("completion failure persists nothing", func(t *testing.T) {
		store, _, llm, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "Invoice total: 1,200.00 EUR", Embedding: []float32{1, 0, 0}},
		)
		llm.err = core.Transientf(errors.New("model overloaded"), "generate")

		_, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?",
		})
		if !errors.Is(err, core.ErrTransient) {
			t.Fatalf("got %v, want transient", err)
		}

		sessions, err := svc.ListChats(ctx, "u1", "org-a")
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 0 {
			t.Fatalf("failed turn left %d sessions behind", len(sessions))
		}
	})

	t.Run("follow-up turns carry recent history", func(t *testing.T) {
		store, _, llm, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "Invoice total: 1,200.00 EUR", Embedding: []float32{1, 0, 0}},
		)

		first, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?",
		})
		if err != nil {
			t.Fatal(err)
		}

		_, err = svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "and when is it due?", ChatID: first.ChatID,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(llm.lastUser, "Conversation so far") {
			t.Fatal("follow-up prompt has no history section")
		}
		if !strings.Contains(llm.lastUser, "how much is the invoice?") {
			t.Fatal("history missing the first question")
		}

		detail, err := svc.GetChat(ctx, first.ChatID, "u1", "org-a")
		if err != nil {
			t.Fatal(err)
		}
		if len(detail.Messages) != 4 {
			t.Fatalf("persisted %d messages after two turns, want 4", len(detail.Messages))
		}
	})

	t.Run("unknown session id", func(t *testing.T) {
		_, _, _, svc := chatFixture(t)
		_, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "hello", ChatID: "missing",
		})
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("got %v, want not found", err)
		}
	})
}

func TestChatServiceSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("sessions are invisible to other users and orgs", func(t *testing.T) {
		store, _, _, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "Invoice total", Embedding: []float32{1, 0, 0}},
		)
		out, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?",
		})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := svc.GetChat(ctx, out.ChatID, "u2", "org-a"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("another user read the session: %v", err)
		}
		if _, err := svc.GetChat(ctx, out.ChatID, "u1", "org-b"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("another org read the session: %v", err)
		}

		theirs, err := svc.ListChats(ctx, "u2", "org-a")
		if err != nil {
			t.Fatal(err)
		}
		if len(theirs) != 0 {
			t.Fatal("session listed for another user")
		}
	})

	t.Run("delete removes the session and its messages", func(t *testing.T) {
		store, _, _, svc := chatFixture(t)
		seedChunks(t, store, "doc-1", "org-a",
			models.EmbeddingChunk{Content: "Invoice total", Embedding: []float32{1, 0, 0}},
		)
		out, err := svc.SendMessage(ctx, SendMessageInput{
			UserID: "u1", OrgID: "org-a", Message: "how much is the invoice?",
		})
		if err != nil {
			t.Fatal(err)
		}

		if err := svc.DeleteChat(ctx, out.ChatID, "u1", "org-a"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetChat(ctx, out.ChatID, "u1", "org-a"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("deleted session still readable: %v", err)
		}
	})

	t.Run("titles truncate to sixty runes", func(t *testing.T) {
		long := strings.Repeat("why ", 40)
		title := sessionTitle(long)
		if got := len([]rune(title)); got != 60 {
			t.Fatalf("title length %d runes, want 60", got)
		}
	})
}
