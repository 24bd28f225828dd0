// Package fragment stores raw-fragment evidence: values that arrived but did
// not fit the active schema. Fragments accumulate per (entity_type, field,
// owner, source, value) with a frequency count; they are the fuel for
// auto-enhancement and are never silently discarded.
package fragment

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/stratahq/strata/errors"
)

// Fragment is one piece of unmapped evidence.
type Fragment struct {
	ID             int64     `json:"id"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id,omitempty"`
	FragmentKey    string    `json:"fragment_key"`
	FragmentValue  string    `json:"fragment_value"`
	FrequencyCount int       `json:"frequency_count"`
	SourceID       string    `json:"source_id"`
	OwnerScope     string    `json:"owner_scope,omitempty"`
	EnvelopeReason string    `json:"envelope_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FieldStats summarizes the accumulated evidence for one candidate field.
type FieldStats struct {
	EntityType      string `json:"entity_type"`
	FragmentKey     string `json:"fragment_key"`
	OwnerScope      string `json:"owner_scope,omitempty"`
	TotalFrequency  int    `json:"total_frequency"`
	DistinctSources int    `json:"distinct_sources"`
}

// Query constants
const (
	fragmentUpsertQuery = `
		INSERT INTO raw_fragments (entity_type, entity_id, fragment_key, fragment_value, source_id, owner_scope, envelope_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, fragment_key, owner_scope, source_id, fragment_value)
		DO UPDATE SET frequency_count = frequency_count + 1, updated_at = CURRENT_TIMESTAMP`

	fragmentSelectColumns = `id, entity_type, entity_id, fragment_key, fragment_value, frequency_count, source_id, owner_scope, envelope_reason, created_at, updated_at`

	fragmentStatsQuery = `
		SELECT COALESCE(SUM(frequency_count), 0), COUNT(DISTINCT source_id)
		FROM raw_fragments
		WHERE entity_type = ? AND fragment_key = ? AND owner_scope = ?`
)

// Store persists raw fragments in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a raw fragment store.
func NewStore(database *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: database, logger: logger}
}

// Record accumulates one fragment. Repeats of the same (entity_type, field,
// owner, source, value) tuple increment the frequency count instead of
// inserting a duplicate row.
func (s *Store) Record(ctx context.Context, frag *Fragment) error {
	if frag.EntityType == "" || frag.FragmentKey == "" {
		return errors.NewInvalidRequestError("fragment requires entity_type and fragment_key")
	}

	_, err := s.db.ExecContext(ctx, fragmentUpsertQuery,
		frag.EntityType,
		frag.EntityID,
		frag.FragmentKey,
		frag.FragmentValue,
		frag.SourceID,
		frag.OwnerScope,
		frag.EnvelopeReason,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record fragment")
	}

	if s.logger != nil {
		s.logger.Debugw("Recorded raw fragment",
			"entity_type", frag.EntityType,
			"fragment_key", frag.FragmentKey,
			"source_id", frag.SourceID,
			"reason", frag.EnvelopeReason,
		)
	}
	return nil
}

// Stats returns the accumulated frequency and distinct-source count for one
// candidate field.
func (s *Store) Stats(ctx context.Context, entityType, fragmentKey, ownerScope string) (*FieldStats, error) {
	stats := &FieldStats{EntityType: entityType, FragmentKey: fragmentKey, OwnerScope: ownerScope}
	err := s.db.QueryRowContext(ctx, fragmentStatsQuery, entityType, fragmentKey, ownerScope).
		Scan(&stats.TotalFrequency, &stats.DistinctSources)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fragment stats")
	}
	return stats, nil
}

// Samples returns up to limit stored values for a candidate field, most
// frequent first, for type inference.
func (s *Store) Samples(ctx context.Context, entityType, fragmentKey, ownerScope string, limit int) ([]string, error) {
	query := `
		SELECT fragment_value FROM raw_fragments
		WHERE entity_type = ? AND fragment_key = ? AND owner_scope = ?
		ORDER BY frequency_count DESC, id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, entityType, fragmentKey, ownerScope, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fragment samples")
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan fragment sample")
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ListKeys returns the distinct fragment keys accumulated for an entity type.
func (s *Store) ListKeys(ctx context.Context, entityType, ownerScope string) ([]string, error) {
	query := `
		SELECT DISTINCT fragment_key FROM raw_fragments
		WHERE entity_type = ? AND owner_scope = ?
		ORDER BY fragment_key ASC`

	rows, err := s.db.QueryContext(ctx, query, entityType, ownerScope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fragment keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan fragment key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Page returns one migration batch of fragments for the given fields,
// ordered by id for stable offset pagination.
func (s *Store) Page(ctx context.Context, entityType string, fieldNames []string, ownerScope string, limit, offset int) ([]*Fragment, error) {
	if len(fieldNames) == 0 {
		return nil, nil
	}

	query := `SELECT ` + fragmentSelectColumns + `
		FROM raw_fragments
		WHERE entity_type = ? AND owner_scope = ? AND fragment_key IN (?` +
		repeatPlaceholder(len(fieldNames)-1) + `)
		ORDER BY id ASC
		LIMIT ? OFFSET ?`

	args := make([]interface{}, 0, len(fieldNames)+4)
	args = append(args, entityType, ownerScope)
	for _, name := range fieldNames {
		args = append(args, name)
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to page fragments")
	}
	defer rows.Close()

	var frags []*Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.EntityType, &f.EntityID, &f.FragmentKey, &f.FragmentValue, &f.FrequencyCount,
			&f.SourceID, &f.OwnerScope, &f.EnvelopeReason, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan fragment")
		}
		frags = append(frags, &f)
	}
	return frags, rows.Err()
}

// Delete removes promoted fragments by id.
func (s *Store) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `DELETE FROM raw_fragments WHERE id IN (?` + repeatPlaceholder(len(ids)-1) + `)`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to delete fragments")
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
