// Package observation persists validated, provenance-tracked observations.
//
// An observation's id is a pure function of its evidence (source,
// interpretation, entity, canonical field hash), so writes are idempotent:
// re-ingesting identical evidence reproduces the same row.
package observation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/stratahq/strata/errors"
)

// Observation is one validated reading of a source about an entity.
type Observation struct {
	ID               string                 `json:"id"`
	SourceID         string                 `json:"source_id"`
	InterpretationID string                 `json:"interpretation_id"`
	EntityType       string                 `json:"entity_type"`
	EntityID         string                 `json:"entity_id"`
	Fields           map[string]interface{} `json:"fields"`
	FieldHash        string                 `json:"field_hash"`
	OwnerScope       string                 `json:"owner_scope,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Query constants
const (
	observationInsertQuery = `
		INSERT OR IGNORE INTO observations (id, source_id, interpretation_id, entity_type, entity_id, fields, field_hash, owner_scope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	observationSelectColumns = `id, source_id, interpretation_id, entity_type, entity_id, fields, field_hash, owner_scope, created_at`
)

// Store persists observations in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates an observation store.
func NewStore(database *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: database, logger: logger}
}

// Put inserts an observation. Observations are never mutated after creation;
// inserting an id that already exists is a no-op and reports created=false.
func (s *Store) Put(ctx context.Context, obs *Observation) (created bool, err error) {
	fieldsJSON, err := json.Marshal(obs.Fields)
	if err != nil {
		return false, errors.Wrap(err, "marshal observation fields")
	}

	result, err := s.db.ExecContext(ctx, observationInsertQuery,
		obs.ID,
		obs.SourceID,
		obs.InterpretationID,
		obs.EntityType,
		obs.EntityID,
		string(fieldsJSON),
		obs.FieldHash,
		obs.OwnerScope,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert observation")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return affected > 0, nil
}

// Get retrieves one observation by id.
func (s *Store) Get(ctx context.Context, id string) (*Observation, error) {
	query := `SELECT ` + observationSelectColumns + ` FROM observations WHERE id = ?`
	return scanObservation(s.db.QueryRowContext(ctx, query, id))
}

// ListByEntity returns all observations about one entity, oldest first.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]*Observation, error) {
	query := `SELECT ` + observationSelectColumns + `
		FROM observations
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list observations")
	}
	defer rows.Close()

	var observations []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObservation(row rowScanner) (*Observation, error) {
	var obs Observation
	var fieldsJSON string

	err := row.Scan(&obs.ID, &obs.SourceID, &obs.InterpretationID, &obs.EntityType, &obs.EntityID,
		&fieldsJSON, &obs.FieldHash, &obs.OwnerScope, &obs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan observation")
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &obs.Fields); err != nil {
		return nil, errors.Wrap(err, "unmarshal observation fields")
	}
	return &obs, nil
}
