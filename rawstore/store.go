// Package rawstore provides the content-addressed raw source store.
//
// Sources are identified by the SHA-256 of their bytes, deduplicated per
// owner. The unique index on (owner_scope, content_hash) is the concurrency
// story: two concurrent puts of identical bytes converge on the same row
// without any client-side locking.
package rawstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/stratahq/strata/db"
	"github.com/stratahq/strata/errors"
)

// Source is the stored metadata of one raw content record.
type Source struct {
	ID               string    `json:"id"`
	OwnerScope       string    `json:"owner_scope"`
	ContentHash      string    `json:"content_hash"`
	MimeType         string    `json:"mime_type"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	StorageLocation  string    `json:"storage_location"`
	ByteSize         int64     `json:"byte_size"`
	Provenance       string    `json:"provenance,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PutResult reports where bytes landed and whether they were already known.
type PutResult struct {
	SourceID     string `json:"source_id"`
	ContentHash  string `json:"content_hash"`
	Deduplicated bool   `json:"deduplicated"`
}

// Query constants
const (
	sourceInsertQuery = `
		INSERT INTO sources (id, owner_scope, content_hash, mime_type, original_filename, storage_location, byte_size, provenance, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sourceSelectColumns = `id, owner_scope, content_hash, mime_type, COALESCE(original_filename, ''), storage_location, byte_size, provenance, created_at`

	sourceByOwnerHashQuery = `
		SELECT id FROM sources WHERE owner_scope = ? AND content_hash = ?`
)

// Store persists raw sources in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a raw source store.
func NewStore(database *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: database, logger: logger}
}

// SourceID derives the deterministic source identifier for an owner/hash
// pair. Making the id itself content-derived means concurrent writers cannot
// even disagree about what to call the row.
func SourceID(ownerScope, contentHash string) string {
	h := sha256.Sum256([]byte(ownerScope + "\x1f" + contentHash))
	return "src_" + base58.Encode(h[:16])
}

// Put stores raw bytes for an owner. Identical bytes from the same owner
// resolve to the existing source id with Deduplicated=true; the stored
// copy's metadata wins. Identical bytes from different owners never collide.
func (s *Store) Put(ctx context.Context, ownerScope string, data []byte, mimeType, originalFilename, provenance string) (*PutResult, error) {
	if ownerScope == "" {
		return nil, errors.NewInvalidRequestError("owner scope is empty")
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	sourceID := SourceID(ownerScope, contentHash)
	storageLocation := "sqlite://sources/" + contentHash

	var filename interface{}
	if originalFilename != "" {
		filename = originalFilename
	}

	_, err := s.db.ExecContext(ctx, sourceInsertQuery,
		sourceID,
		ownerScope,
		contentHash,
		mimeType,
		filename,
		storageLocation,
		int64(len(data)),
		provenance,
		data,
	)
	if db.IsUniqueConstraintViolation(err) {
		// Already stored for this owner: return the existing id, do not
		// re-store. A concurrent put may have won the race; read back the id
		// the index settled on.
		var existingID string
		if scanErr := s.db.QueryRowContext(ctx, sourceByOwnerHashQuery, ownerScope, contentHash).Scan(&existingID); scanErr != nil {
			return nil, errors.Wrap(scanErr, "resolve deduplicated source")
		}
		if s.logger != nil {
			s.logger.Debugw("Deduplicated source put",
				"source_id", existingID,
				"owner_scope", ownerScope,
				"byte_size", len(data),
			)
		}
		return &PutResult{SourceID: existingID, ContentHash: contentHash, Deduplicated: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to store source")
	}

	if s.logger != nil {
		s.logger.Infow("Stored source",
			"source_id", sourceID,
			"owner_scope", ownerScope,
			"content_hash", contentHash,
			"byte_size", len(data),
		)
	}
	return &PutResult{SourceID: sourceID, ContentHash: contentHash, Deduplicated: false}, nil
}

// Get retrieves source metadata by id. Unknown ids are ErrNotFound.
func (s *Store) Get(ctx context.Context, sourceID string) (*Source, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM sources WHERE id = ?`

	var src Source
	err := s.db.QueryRowContext(ctx, query, sourceID).Scan(
		&src.ID,
		&src.OwnerScope,
		&src.ContentHash,
		&src.MimeType,
		&src.OriginalFilename,
		&src.StorageLocation,
		&src.ByteSize,
		&src.Provenance,
		&src.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("source not found: %s", sourceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get source")
	}
	return &src, nil
}

// GetContent retrieves the stored bytes of a source.
func (s *Store) GetContent(ctx context.Context, sourceID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM sources WHERE id = ?`, sourceID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("source not found: %s", sourceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get source content")
	}
	return content, nil
}

// Exists reports whether a source id is known.
func (s *Store) Exists(ctx context.Context, sourceID string) bool {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sources WHERE id = ?)`, sourceID).Scan(&exists)
	return err == nil && exists
}
