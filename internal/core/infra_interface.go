package core

import (
	"context"
	"io"

	"github.com/docuflow-ai/docuflow/internal/models"
)

// DbClient defines all persistence operations the pipeline and chat service
// need. It abstracts Postgres/pgvector so higher layers never depend on a
// specific store; every read and write is scoped by org ID.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id, orgID string) (*models.Document, error)
	ListDocumentsByOrg(ctx context.Context, orgID string) ([]models.Document, error)
	SetDocumentStatus(ctx context.Context, id, orgID, status string) error
	SetDocumentFailed(ctx context.Context, id, orgID, processingError string) error
	SaveExtractionResult(ctx context.Context, upd *models.ExtractionUpdate) error
	// DeleteDocument removes the document row together with all of its
	// embedding chunks.
	DeleteDocument(ctx context.Context, id, orgID string) error

	// ReplaceDocumentChunks atomically swaps the full chunk set of one
	// document: readers see either the old complete set or the new one.
	ReplaceDocumentChunks(ctx context.Context, documentID, orgID string, chunks []models.EmbeddingChunk) error
	GetChunksByDocument(ctx context.Context, documentID, orgID string) ([]models.EmbeddingChunk, error)
	GetEmbeddingStats(ctx context.Context, documentID, orgID string) (*models.EmbeddingStats, error)
	// SearchChunks ranks an org's chunks by cosine similarity to queryVec.
	// documentID narrows the scope to one document when non-empty.
	SearchChunks(ctx context.Context, orgID, documentID string, queryVec []float32, limit int) ([]models.ScoredChunk, error)

	CreateChatSession(ctx context.Context, session *models.ChatSession) error
	GetChatSession(ctx context.Context, id, userID, orgID string) (*models.ChatSession, error)
	ListChatSessions(ctx context.Context, userID, orgID string) ([]models.ChatSession, error)
	DeleteChatSession(ctx context.Context, id, userID, orgID string) error
	// AppendChatMessages writes the given messages and bumps the session's
	// last_message_at in one transaction; a turn is all-or-nothing.
	AppendChatMessages(ctx context.Context, sessionID string, msgs []models.ChatMessage) error
	GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage. Paths
// are opaque keys inside a configured bucket.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (string, error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}
