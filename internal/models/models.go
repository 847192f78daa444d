package models

import (
	"encoding/json"
	"time"
)

// Document pipeline statuses. A document is created as "pending" and is only
// moved by the extraction stage: pending -> processing -> completed | failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	OrgID        string    `db:"org_id" json:"org_id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents one uploaded file and its extraction results.
//
// Invariants: status "completed" implies ProcessedAt is set; status "failed"
// implies ProcessingError is set; OCRConfidence is only meaningful when
// OCRText is non-nil.
type Document struct {
	ID              string          `db:"id" json:"id"`
	OrgID           string          `db:"org_id" json:"org_id"`
	UserID          string          `db:"user_id" json:"user_id"`
	OriginalName    string          `db:"original_name" json:"original_name"`
	MimeType        string          `db:"mime_type" json:"mime_type"`
	FileSizeBytes   int64           `db:"file_size_bytes" json:"file_size_bytes"`
	StoragePath     string          `db:"storage_path" json:"storage_path"`
	DocType         string          `db:"doc_type" json:"doc_type,omitempty"` // "", "invoice", "receipt", "id_card"
	Status          string          `db:"status" json:"status"`
	OCRText         *string         `db:"ocr_text" json:"ocr_text,omitempty"`
	OCRConfidence   *float64        `db:"ocr_confidence" json:"ocr_confidence,omitempty"`
	ExtractedFields json.RawMessage `db:"extracted_fields" json:"extracted_fields,omitempty"`
	ProcessingError *string         `db:"processing_error" json:"processing_error,omitempty"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// ExtractionUpdate carries the terminal result of a successful extraction run.
type ExtractionUpdate struct {
	DocumentID      string
	OrgID           string
	OCRText         *string
	OCRConfidence   *float64
	ExtractedFields json.RawMessage
	ProcessedAt     time.Time
}

// EmbeddingChunk represents one retrievable unit of a document's text.
//
// For a given document, ChunkIndex values are contiguous starting at 0 and
// all vectors share one dimensionality. Chunks are only ever written as a
// full per-document set (delete old set, insert new set in one transaction).
type EmbeddingChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	OrgID      string    `db:"org_id" json:"org_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Content    string    `db:"content" json:"content"`
	Embedding  []float32 `db:"embedding" json:"-"` // pgvector column
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ScoredChunk is a retrieval hit: a chunk plus its cosine similarity to the
// query vector.
type ScoredChunk struct {
	EmbeddingChunk
	Similarity float64 `json:"similarity"`
}

// EmbeddingStats summarizes the stored chunk set of one document.
type EmbeddingStats struct {
	ChunkCount     int     `json:"chunk_count"`
	AvgChunkLength float64 `json:"avg_chunk_length"`
	TotalChars     int     `json:"total_chars"`
}

// ChatSession represents a multi-turn conversation, optionally anchored to
// one document. A session is owned exclusively by (UserID, OrgID).
type ChatSession struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	OrgID         string    `db:"org_id" json:"org_id"`
	DocumentID    *string   `db:"document_id" json:"document_id,omitempty"` // nil = cross-document chat
	Title         string    `db:"title" json:"title"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// ChatMessage represents an individual chat message (user or assistant).
// Sources is present only on assistant messages and is a snapshot of the
// chunks used at answer time, so it still renders after a re-embedding run.
type ChatMessage struct {
	ID        string          `db:"id" json:"id"`
	SessionID string          `db:"session_id" json:"session_id"`
	Role      string          `db:"role" json:"role"`
	Content   string          `db:"content" json:"content"`
	Sources   []MessageSource `db:"sources" json:"sources,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// MessageSource is one cited chunk snapshot on an assistant message.
type MessageSource struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
