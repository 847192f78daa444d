package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docuflow-ai/docuflow/internal/config"
	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, org_id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.OrgID, user.FirstName, user.Email, user.PasswordHash)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, org_id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.OrgID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, org_id, user_id, original_name, mime_type, file_size_bytes, storage_path, doc_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.OrgID, doc.UserID, doc.OriginalName, doc.MimeType, doc.FileSizeBytes, doc.StoragePath, doc.DocType, doc.Status)
	return err
}

const documentColumns = `
	id, org_id, user_id, original_name, mime_type, file_size_bytes, storage_path, doc_type,
	status, ocr_text, ocr_confidence, extracted_fields, processing_error, processed_at,
	created_at, updated_at
`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var (
		d      models.Document
		fields []byte
	)
	err := row.Scan(
		&d.ID, &d.OrgID, &d.UserID, &d.OriginalName, &d.MimeType, &d.FileSizeBytes, &d.StoragePath, &d.DocType,
		&d.Status, &d.OCRText, &d.OCRConfidence, &fields, &d.ProcessingError, &d.ProcessedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		d.ExtractedFields = json.RawMessage(fields)
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocument(ctx context.Context, id, orgID string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND org_id = $2`
	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, id, orgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *DatabaseClient) ListDocumentsByOrg(ctx context.Context, orgID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE org_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SetDocumentStatus(ctx context.Context, id, orgID, status string) error {
	const q = `
		UPDATE documents
		SET status = $3, updated_at = now()
		WHERE id = $1 AND org_id = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, orgID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("document %s in org %s", id, orgID)
	}
	return nil
}

func (c *DatabaseClient) SetDocumentFailed(ctx context.Context, id, orgID, processingError string) error {
	const q = `
		UPDATE documents
		SET status = $3, processing_error = $4, updated_at = now()
		WHERE id = $1 AND org_id = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, orgID, models.StatusFailed, processingError)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("document %s in org %s", id, orgID)
	}
	return nil
}

func (c *DatabaseClient) SaveExtractionResult(ctx context.Context, upd *models.ExtractionUpdate) error {
	const q = `
		UPDATE documents
		SET status = $3, ocr_text = $4, ocr_confidence = $5, extracted_fields = $6,
		    processing_error = NULL, processed_at = $7, updated_at = now()
		WHERE id = $1 AND org_id = $2
	`
	var fields any
	if len(upd.ExtractedFields) > 0 {
		fields = []byte(upd.ExtractedFields)
	}
	res, err := c.db.ExecContext(ctx, q,
		upd.DocumentID, upd.OrgID, models.StatusCompleted, upd.OCRText, upd.OCRConfidence, fields, upd.ProcessedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("document %s in org %s", upd.DocumentID, upd.OrgID)
	}
	return nil
}

// DeleteDocument removes the document and, via the chunk FK cascade plus an
// explicit delete, every embedding chunk that belongs to it.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id, orgID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embedding_chunks WHERE document_id = $1 AND org_id = $2`, id, orgID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("document %s in org %s", id, orgID)
	}
	return tx.Commit()
}

// Embedding chunks

// ReplaceDocumentChunks swaps the whole chunk set of one document in a
// single transaction, so concurrent readers see either the old complete set
// or the new one, never a mix.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID, orgID string, chunks []models.EmbeddingChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embedding_chunks WHERE document_id = $1 AND org_id = $2`, documentID, orgID); err != nil {
		return err
	}

	if len(chunks) > 0 {
		const q = `
			INSERT INTO embedding_chunks
				(id, document_id, org_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		`
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range chunks {
			ch := &chunks[i]
			vec := pgvector.NewVector(ch.Embedding)
			if _, err := stmt.ExecContext(ctx,
				ch.ID, ch.DocumentID, ch.OrgID, ch.ChunkIndex, ch.Content, vec, ch.CreatedAt,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID, orgID string) ([]models.EmbeddingChunk, error) {
	const q = `
		SELECT id, document_id, org_id, chunk_index, content, embedding, created_at
		FROM embedding_chunks
		WHERE document_id = $1 AND org_id = $2
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmbeddingChunk
	for rows.Next() {
		var (
			ch  models.EmbeddingChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.OrgID, &ch.ChunkIndex, &ch.Content, &emb, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetEmbeddingStats(ctx context.Context, documentID, orgID string) (*models.EmbeddingStats, error) {
	const q = `
		SELECT COUNT(*), COALESCE(AVG(LENGTH(content)), 0), COALESCE(SUM(LENGTH(content)), 0)
		FROM embedding_chunks
		WHERE document_id = $1 AND org_id = $2
	`
	var stats models.EmbeddingStats
	err := c.db.QueryRowContext(ctx, q, documentID, orgID).Scan(
		&stats.ChunkCount, &stats.AvgChunkLength, &stats.TotalChars)
	if err != nil {
		return nil, err
	}
	if stats.ChunkCount == 0 {
		return nil, nil
	}
	return &stats, nil
}

// SearchChunks finds the top-limit chunks for an org (optionally narrowed
// to one document) by cosine similarity to the query vector.
func (c *DatabaseClient) SearchChunks(ctx context.Context, orgID, documentID string, queryVec []float32, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT id, document_id, org_id, chunk_index, content, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM embedding_chunks
		WHERE org_id = $2 AND ($3 = '' OR document_id = $3)
		ORDER BY embedding <=> $1
		LIMIT $4
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, vec, orgID, documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.OrgID, &sc.ChunkIndex, &sc.Content, &sc.CreatedAt, &sc.Similarity); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Chat sessions

func (c *DatabaseClient) CreateChatSession(ctx context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	const q = `
		INSERT INTO chat_sessions (id, user_id, org_id, document_id, title, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, q,
		session.ID, session.UserID, session.OrgID, session.DocumentID, session.Title, session.CreatedAt, session.LastMessageAt)
	return err
}

func (c *DatabaseClient) GetChatSession(ctx context.Context, id, userID, orgID string) (*models.ChatSession, error) {
	const q = `
		SELECT id, user_id, org_id, document_id, title, created_at, last_message_at
		FROM chat_sessions
		WHERE id = $1 AND user_id = $2 AND org_id = $3
	`
	var s models.ChatSession
	err := c.db.QueryRowContext(ctx, q, id, userID, orgID).Scan(
		&s.ID, &s.UserID, &s.OrgID, &s.DocumentID, &s.Title, &s.CreatedAt, &s.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) ListChatSessions(ctx context.Context, userID, orgID string) ([]models.ChatSession, error) {
	const q = `
		SELECT id, user_id, org_id, document_id, title, created_at, last_message_at
		FROM chat_sessions
		WHERE user_id = $1 AND org_id = $2
		ORDER BY last_message_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.OrgID, &s.DocumentID, &s.Title, &s.CreatedAt, &s.LastMessageAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteChatSession(ctx context.Context, id, userID, orgID string) error {
	const q = `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2 AND org_id = $3`
	res, err := c.db.ExecContext(ctx, q, id, userID, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("chat session %s", id)
	}
	return nil
}

// AppendChatMessages writes a whole chat turn in one transaction and bumps
// the session's last_message_at; nothing is persisted on failure.
func (c *DatabaseClient) AppendChatMessages(ctx context.Context, sessionID string, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO chat_messages (id, session_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range msgs {
		m := &msgs[i]
		var sources any
		if len(m.Sources) > 0 {
			data, err := json.Marshal(m.Sources)
			if err != nil {
				return fmt.Errorf("marshal sources: %w", err)
			}
			sources = data
		}
		if _, err := tx.ExecContext(ctx, q, m.ID, m.SessionID, m.Role, m.Content, sources, m.CreatedAt); err != nil {
			return err
		}
	}

	last := msgs[len(msgs)-1].CreatedAt
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET last_message_at = $2 WHERE id = $1`, sessionID, last); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, role, content, sources, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m       models.ChatMessage
			sources []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
