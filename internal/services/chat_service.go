// Package services holds the request-time application services built on the
// core ports.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
)

// ErrEmptyMessage is returned when a chat turn carries no user text.
var ErrEmptyMessage = errors.New("message must not be empty")

const chatSystemPrompt = "You are an intelligent assistant answering based only on the given document content and the conversation so far. If the answer is not in the provided context, say you cannot find it in the documents."

// ChatConfig tunes retrieval and prompting for the chat service.
type ChatConfig struct {
	MaxContextChunks   int
	SimilarityFloor    float64
	HistoryWindow      int
	DefaultTemperature float32
	EmbedTimeout       time.Duration
	CompletionTimeout  time.Duration
}

// ChatService runs retrieval-augmented chat turns and manages session
// state. A turn is all-or-nothing: any failure before the final persist
// leaves the session unchanged, so there are never orphan user-only
// messages.
type ChatService struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	cfg      ChatConfig
	log      *slog.Logger
}

// NewChatService wires the chat service with its collaborators.
func NewChatService(db core.DbClient, embedder core.EmbeddingProvider, llm core.LLMProvider, cfg ChatConfig, log *slog.Logger) *ChatService {
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	if cfg.DefaultTemperature <= 0 {
		cfg.DefaultTemperature = 0.2
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = time.Minute
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = time.Minute
	}
	return &ChatService{db: db, embedder: embedder, llm: llm, cfg: cfg, log: log}
}

// SendMessageInput is one chat turn request.
type SendMessageInput struct {
	UserID     string
	OrgID      string
	Message    string
	ChatID     string // empty = start a new session
	DocumentID string // empty = cross-document chat
	// MaxContextChunks overrides the configured top-K when positive.
	MaxContextChunks int
	// Temperature for the completion call; 0 uses the configured default.
	Temperature float32
}

// SendMessageOutput is the answer for one chat turn.
type SendMessageOutput struct {
	ChatID  string                 `json:"chat_id"`
	Answer  string                 `json:"answer"`
	Sources []models.MessageSource `json:"sources"`
}

// ChatDetail is a session together with its full message history.
type ChatDetail struct {
	Session  models.ChatSession   `json:"session"`
	Messages []models.ChatMessage `json:"messages"`
}

// SendMessage executes one turn: resolve the session, embed the query,
// retrieve context above the similarity floor, complete, then persist the
// user and assistant messages together.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if in.UserID == "" || in.OrgID == "" {
		return nil, core.InvalidConfigf("chat turn requires a user and an org")
	}

	session, isNew, err := s.resolveSession(ctx, in)
	if err != nil {
		return nil, err
	}

	// A session anchored to a document keeps that scope for every turn.
	documentID := in.DocumentID
	if session.DocumentID != nil {
		documentID = *session.DocumentID
	}

	queryVec, err := s.embedQuery(ctx, in.Message)
	if err != nil {
		return nil, err
	}

	topK := in.MaxContextChunks
	if topK <= 0 {
		topK = s.cfg.MaxContextChunks
	}
	hits, err := s.db.SearchChunks(ctx, in.OrgID, documentID, queryVec, topK)
	if err != nil {
		return nil, err
	}

	// Chunks below the floor are dropped rather than forced into context;
	// irrelevant context measurably harms answer quality.
	sources := make([]models.MessageSource, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < s.cfg.SimilarityFloor {
			continue
		}
		sources = append(sources, models.MessageSource{
			DocumentID: hit.DocumentID,
			ChunkIndex: hit.ChunkIndex,
			Content:    hit.Content,
			Similarity: hit.Similarity,
		})
	}

	var history []models.ChatMessage
	if !isNew {
		history, err = s.db.GetMessagesBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if len(history) > s.cfg.HistoryWindow {
			history = history[len(history)-s.cfg.HistoryWindow:]
		}
	}

	temperature := in.Temperature
	if temperature <= 0 {
		temperature = s.cfg.DefaultTemperature
	}
	answer, err := s.complete(ctx, buildPrompt(sources, history, in.Message), temperature)
	if err != nil {
		return nil, err
	}

	if err := s.persistTurn(ctx, session, isNew, in.Message, answer, sources); err != nil {
		return nil, err
	}

	s.log.Info("chat turn complete", "chat_id", session.ID, "org_id", in.OrgID, "sources", len(sources))
	return &SendMessageOutput{ChatID: session.ID, Answer: answer, Sources: sources}, nil
}

// ListChats returns the caller's sessions, most recent first.
func (s *ChatService) ListChats(ctx context.Context, userID, orgID string) ([]models.ChatSession, error) {
	return s.db.ListChatSessions(ctx, userID, orgID)
}

// GetChat returns a session with its messages, scoped to the caller.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID, orgID string) (*ChatDetail, error) {
	session, err := s.db.GetChatSession(ctx, chatID, userID, orgID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.NotFoundf("chat session %s", chatID)
	}
	messages, err := s.db.GetMessagesBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &ChatDetail{Session: *session, Messages: messages}, nil
}

// DeleteChat removes a session and its messages, scoped to the caller.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID, orgID string) error {
	return s.db.DeleteChatSession(ctx, chatID, userID, orgID)
}

// resolveSession loads an existing session or prepares a new one. New
// sessions are only persisted together with the turn's messages.
func (s *ChatService) resolveSession(ctx context.Context, in SendMessageInput) (*models.ChatSession, bool, error) {
	if in.ChatID != "" {
		session, err := s.db.GetChatSession(ctx, in.ChatID, in.UserID, in.OrgID)
		if err != nil {
			return nil, false, err
		}
		if session == nil {
			return nil, false, core.NotFoundf("chat session %s", in.ChatID)
		}
		return session, false, nil
	}

	now := time.Now()
	session := &models.ChatSession{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		OrgID:         in.OrgID,
		Title:         sessionTitle(in.Message),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if in.DocumentID != "" {
		docID := in.DocumentID
		session.DocumentID = &docID
	}
	return session, true, nil
}

func (s *ChatService) embedQuery(ctx context.Context, message string) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()

	vecs, err := s.embedder.EmbedTexts(ectx, []string{message})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for the query")
	}
	return vecs[0], nil
}

func (s *ChatService) complete(ctx context.Context, userPrompt string, temperature float32) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()
	return s.llm.Generate(cctx, chatSystemPrompt, userPrompt, temperature)
}

func (s *ChatService) persistTurn(ctx context.Context, session *models.ChatSession, isNew bool, question, answer string, sources []models.MessageSource) error {
	if isNew {
		if err := s.db.CreateChatSession(ctx, session); err != nil {
			return err
		}
	}
	now := time.Now()
	turn := []models.ChatMessage{
		{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   question,
			CreatedAt: now,
		},
		{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      models.RoleAssistant,
			Content:   answer,
			Sources:   sources,
			CreatedAt: now.Add(time.Millisecond),
		},
	}
	return s.db.AppendChatMessages(ctx, session.ID, turn)
}

// buildPrompt assembles the grounded prompt: retrieved chunks, recent
// history, then the question. With no chunks above the floor the model is
// told to answer from the conversation alone.
func buildPrompt(sources []models.MessageSource, history []models.ChatMessage, question string) string {
	var sb strings.Builder

	if len(sources) > 0 {
		sb.WriteString("Context:\n")
		for _, src := range sources {
			sb.WriteString(src.Content)
			sb.WriteString("\n---\n")
		}
	} else {
		sb.WriteString("No document context matched this question; answer from the conversation history alone.\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func sessionTitle(message string) string {
	title := strings.TrimSpace(message)
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60])
	}
	return title
}
