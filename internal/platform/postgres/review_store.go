package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/store"
)

// ReviewStore implements the review-side store interfaces: targets, results,
// checklist items, and spaces.
type ReviewStore struct {
	db store.DBTX
}

// NewReviewStore creates a ReviewStore.
func NewReviewStore(db store.DBTX) *ReviewStore {
	return &ReviewStore{db: db}
}

// FindByID retrieves a review target.
func (s *ReviewStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.ReviewTarget, error) {
	query := `SELECT id, space_id, name, status, COALESCE(error_message, ''), updated_at
		FROM review_targets WHERE id = $1`

	var t domain.ReviewTarget
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.SpaceID, &t.Name, &t.Status, &t.ErrorMessage, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrReviewTargetNotFound
		}
		return nil, fmt.Errorf("failed to load review target: %w", err)
	}
	return &t, nil
}

// UpdateStatus sets a target's status and error message.
func (s *ReviewStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ReviewTargetStatus, errorMessage string) error {
	query := `UPDATE review_targets SET status = $1, error_message = NULLIF($2, ''), updated_at = $3 WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query, status, errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUpdateFailed, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUpdateFailed, err)
	}
	if affected == 0 {
		return store.ErrReviewTargetNotFound
	}
	return nil
}

// Save persists one review result.
func (s *ReviewStore) Save(ctx context.Context, r *domain.ReviewResult) error {
	query := `
		INSERT INTO review_results (id, target_id, file_name, check_content, verdict, explanation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.TargetID, r.FileName, r.CheckContent, r.Verdict, r.Explanation, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save review result: %w", err)
	}
	return nil
}

// DeleteByTarget removes every result (and chunk detail, via cascade) for a target.
func (s *ReviewStore) DeleteByTarget(ctx context.Context, targetID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM review_results WHERE target_id = $1`, targetID)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrDeleteFailed, err)
	}
	return nil
}

// SaveChunkDetail attaches one research chunk's raw output to a result.
func (s *ReviewStore) SaveChunkDetail(ctx context.Context, resultID uuid.UUID, chunkIndex int, content string) error {
	query := `
		INSERT INTO review_result_chunks (result_id, chunk_index, content, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (result_id, chunk_index) DO UPDATE SET content = EXCLUDED.content
	`
	_, err := s.db.ExecContext(ctx, query, resultID, chunkIndex, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save chunk detail: %w", err)
	}
	return nil
}

// InsertAll bulk-inserts generated checklist items.
func (s *ReviewStore) InsertAll(ctx context.Context, items []*domain.ChecklistItem) error {
	query := `INSERT INTO checklist_items (id, space_id, content, created_at) VALUES ($1, $2, $3, $4)`

	now := time.Now().UTC()
	for _, item := range items {
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := s.db.ExecContext(ctx, query, item.ID, item.SpaceID, item.Content, createdAt); err != nil {
			return fmt.Errorf("failed to insert checklist item: %w", err)
		}
	}
	return nil
}

// SetGenerationError records a failed checklist generation on the space.
func (s *ReviewStore) SetGenerationError(ctx context.Context, spaceID uuid.UUID, message string) error {
	return s.updateSpaceError(ctx, spaceID, message)
}

// ClearGenerationError removes a recorded generation error.
func (s *ReviewStore) ClearGenerationError(ctx context.Context, spaceID uuid.UUID) error {
	return s.updateSpaceError(ctx, spaceID, "")
}

func (s *ReviewStore) updateSpaceError(ctx context.Context, spaceID uuid.UUID, message string) error {
	query := `UPDATE review_spaces SET generation_error = NULLIF($1, ''), updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, message, time.Now().UTC(), spaceID)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUpdateFailed, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUpdateFailed, err)
	}
	if affected == 0 {
		return store.ErrReviewSpaceNotFound
	}
	return nil
}

// DocumentCacheStore implements store.DocumentCacheStore. Page images live on
// disk; a cache row stores the extracted text and chunk bookkeeping.
type DocumentCacheStore struct {
	db store.DBTX
}

// NewDocumentCacheStore creates a DocumentCacheStore.
func NewDocumentCacheStore(db store.DBTX) *DocumentCacheStore {
	return &DocumentCacheStore{db: db}
}

// FindByFileID retrieves the cached extraction for a file.
func (s *DocumentCacheStore) FindByFileID(ctx context.Context, fileID uuid.UUID) (*domain.DocumentCache, error) {
	query := `SELECT file_id, file_name, mode, extracted_text, chunk_count, updated_at
		FROM document_caches WHERE file_id = $1`

	var c domain.DocumentCache
	err := s.db.QueryRowContext(ctx, query, fileID).Scan(
		&c.FileID, &c.FileName, &c.Mode, &c.Text, &c.ChunkCount, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrDocumentCacheNotFound
		}
		return nil, fmt.Errorf("failed to load document cache: %w", err)
	}
	return &c, nil
}

// Save persists an extraction, replacing any existing cache for the file.
func (s *DocumentCacheStore) Save(ctx context.Context, c *domain.DocumentCache) error {
	query := `
		INSERT INTO document_caches (file_id, file_name, mode, extracted_text, chunk_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			mode = EXCLUDED.mode,
			extracted_text = EXCLUDED.extracted_text,
			chunk_count = GREATEST(document_caches.chunk_count, EXCLUDED.chunk_count),
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		c.FileID, c.FileName, c.Mode, c.Text, c.ChunkCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save document cache: %w", err)
	}
	return nil
}

// MaxChunkCount returns the largest chunk count recorded for the file.
func (s *DocumentCacheStore) MaxChunkCount(ctx context.Context, fileID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(chunk_count), 0) FROM document_caches WHERE file_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, fileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read max chunk count: %w", err)
	}
	return count, nil
}

// RecordChunkCount stores the chunk count a research call settled on, keeping
// the maximum seen so far.
func (s *DocumentCacheStore) RecordChunkCount(ctx context.Context, fileID uuid.UUID, count int) error {
	query := `UPDATE document_caches SET chunk_count = GREATEST(chunk_count, $1), updated_at = $2 WHERE file_id = $3`

	if _, err := s.db.ExecContext(ctx, query, count, time.Now().UTC(), fileID); err != nil {
		return fmt.Errorf("failed to record chunk count: %w", err)
	}
	return nil
}
