// Package memstore is an in-memory DbClient backed by a brute-force cosine
// scan. It mirrors the Postgres client's visibility rules (org scoping,
// atomic per-document chunk replacement) and backs the pipeline and chat
// tests.
package memstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
)

// Store implements core.DbClient in memory.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*models.User // by email
	documents map[string]*models.Document
	chunks    map[string][]models.EmbeddingChunk // by document ID, index-ordered
	sessions  map[string]*models.ChatSession
	messages  map[string][]models.ChatMessage // by session ID, append-ordered
}

var _ core.DbClient = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:     make(map[string]*models.User),
		documents: make(map[string]*models.Document),
		chunks:    make(map[string][]models.EmbeddingChunk),
		sessions:  make(map[string]*models.ChatSession),
		messages:  make(map[string][]models.ChatMessage),
	}
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return errors.New("email already registered")
	}
	u := *user
	s.users[user.Email] = &u
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := *doc
	s.documents[doc.ID] = &d
	return nil
}

func (s *Store) GetDocument(_ context.Context, id, orgID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := s.visibleDocument(id, orgID)
	if doc == nil {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) ListDocumentsByOrg(_ context.Context, orgID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Document
	for _, doc := range s.documents {
		if doc.OrgID == orgID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetDocumentStatus(_ context.Context, id, orgID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.visibleDocument(id, orgID)
	if doc == nil {
		return core.NotFoundf("document %s in org %s", id, orgID)
	}
	doc.Status = status
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetDocumentFailed(_ context.Context, id, orgID, processingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.visibleDocument(id, orgID)
	if doc == nil {
		return core.NotFoundf("document %s in org %s", id, orgID)
	}
	doc.Status = models.StatusFailed
	doc.ProcessingError = &processingError
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SaveExtractionResult(_ context.Context, upd *models.ExtractionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.visibleDocument(upd.DocumentID, upd.OrgID)
	if doc == nil {
		return core.NotFoundf("document %s in org %s", upd.DocumentID, upd.OrgID)
	}
	doc.Status = models.StatusCompleted
	doc.OCRText = upd.OCRText
	doc.OCRConfidence = upd.OCRConfidence
	doc.ExtractedFields = upd.ExtractedFields
	doc.ProcessingError = nil
	processedAt := upd.ProcessedAt
	doc.ProcessedAt = &processedAt
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, id, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.visibleDocument(id, orgID)
	if doc == nil {
		return core.NotFoundf("document %s in org %s", id, orgID)
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) ReplaceDocumentChunks(_ context.Context, documentID, orgID string, chunks []models.EmbeddingChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replacement := make([]models.EmbeddingChunk, len(chunks))
	copy(replacement, chunks)
	sort.Slice(replacement, func(i, j int) bool { return replacement[i].ChunkIndex < replacement[j].ChunkIndex })
	if len(replacement) == 0 {
		delete(s.chunks, documentID)
		return nil
	}
	s.chunks[documentID] = replacement
	return nil
}

func (s *Store) GetChunksByDocument(_ context.Context, documentID, orgID string) ([]models.EmbeddingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.visibleDocument(documentID, orgID) == nil {
		return nil, nil
	}
	out := make([]models.EmbeddingChunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	return out, nil
}

func (s *Store) GetEmbeddingStats(_ context.Context, documentID, orgID string) (*models.EmbeddingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.visibleDocument(documentID, orgID) == nil {
		return nil, nil
	}
	chunks := s.chunks[documentID]
	if len(chunks) == 0 {
		return nil, nil
	}
	total := 0
	for _, ch := range chunks {
		total += len(ch.Content)
	}
	return &models.EmbeddingStats{
		ChunkCount:     len(chunks),
		AvgChunkLength: float64(total) / float64(len(chunks)),
		TotalChars:     total,
	}, nil
}

func (s *Store) SearchChunks(_ context.Context, orgID, documentID string, queryVec []float32, limit int) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []models.ScoredChunk
	for docID, chunks := range s.chunks {
		if documentID != "" && docID != documentID {
			continue
		}
		for _, ch := range chunks {
			if ch.OrgID != orgID {
				continue
			}
			hits = append(hits, models.ScoredChunk{
				EmbeddingChunk: ch,
				Similarity:     cosineSimilarity(queryVec, ch.Embedding),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) CreateChatSession(_ context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) GetChatSession(_ context.Context, id, userID, orgID string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID || sess.OrgID != orgID {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ListChatSessions(_ context.Context, userID, orgID string) ([]models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatSession
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.OrgID == orgID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *Store) DeleteChatSession(_ context.Context, id, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID || sess.OrgID != orgID {
		return core.NotFoundf("chat session %s", id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendChatMessages(_ context.Context, sessionID string, msgs []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.NotFoundf("chat session %s", sessionID)
	}
	s.messages[sessionID] = append(s.messages[sessionID], msgs...)
	if len(msgs) > 0 {
		sess.LastMessageAt = msgs[len(msgs)-1].CreatedAt
	}
	return nil
}

func (s *Store) GetMessagesBySession(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *Store) Close() error { return nil }

// visibleDocument must be called with the lock held.
func (s *Store) visibleDocument(id, orgID string) *models.Document {
	doc, ok := s.documents[id]
	if !ok || doc.OrgID != orgID {
		return nil
	}
	return doc
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
