package schema

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/stratahq/strata/db"
	"github.com/stratahq/strata/errors"
)

// Query constants
const (
	definitionInsertQuery = `
		INSERT INTO schema_definitions (entity_type, schema_version, scope, owner_id, active, fields, reducer_config)
		VALUES (?, ?, ?, ?, 0, ?, ?)`

	definitionSelectColumns = `entity_type, schema_version, scope, owner_id, active, fields, reducer_config, created_at`

	deactivateSiblingsQuery = `
		UPDATE schema_definitions
		SET active = 0
		WHERE entity_type = ? AND scope = ? AND owner_id = ? AND active = 1`

	activateVersionQuery = `
		UPDATE schema_definitions
		SET active = 1
		WHERE entity_type = ? AND scope = ? AND owner_id = ? AND schema_version = ?`
)

// Store persists schema definitions in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a schema definition store.
func NewStore(database *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: database, logger: logger}
}

// Register inserts a new schema version as an inactive row. Registering a
// version that already exists for the same key is a conflict.
func (s *Store) Register(ctx context.Context, def *Definition) error {
	fieldsJSON, err := json.Marshal(def.Fields)
	if err != nil {
		return errors.Wrap(err, "marshal schema fields")
	}
	reducerJSON, err := json.Marshal(def.Reducer)
	if err != nil {
		return errors.Wrap(err, "marshal reducer config")
	}

	_, err = s.db.ExecContext(ctx, definitionInsertQuery,
		def.EntityType,
		def.Version,
		string(def.Scope),
		def.OwnerID,
		string(fieldsJSON),
		string(reducerJSON),
	)
	if db.IsUniqueConstraintViolation(err) {
		return errors.Wrapf(errors.ErrConflict, "schema %s/%s version %s already registered",
			def.EntityType, def.Scope, def.Version)
	}
	if err != nil {
		return errors.Wrap(err, "failed to register schema definition")
	}

	if s.logger != nil {
		s.logger.Infow("Registered schema version",
			"entity_type", def.EntityType,
			"scope", def.Scope,
			"owner_id", def.OwnerID,
			"version", def.Version,
		)
	}
	return nil
}

// Activate makes one registered version the active schema for its key. The
// deactivate/activate pair runs in a single transaction: a concurrent reader
// observes either the old active row or the new one, never zero or two. The
// partial unique index on (entity_type, scope, owner_id) WHERE active=1
// backstops the invariant at the database level.
func (s *Store) Activate(ctx context.Context, entityType string, scope Scope, ownerID, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin activation tx")
	}

	if _, err := tx.ExecContext(ctx, deactivateSiblingsQuery, entityType, string(scope), ownerID); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "deactivate sibling schemas")
	}

	result, err := tx.ExecContext(ctx, activateVersionQuery, entityType, string(scope), ownerID, version)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "activate schema version")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		tx.Rollback()
		return errors.NewNotFoundError("schema version %s not registered for %s/%s/%s",
			version, entityType, scope, ownerID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit activation")
	}

	if s.logger != nil {
		s.logger.Infow("Activated schema version",
			"entity_type", entityType,
			"scope", scope,
			"owner_id", ownerID,
			"version", version,
		)
	}
	return nil
}

// LoadActive resolves the active schema for an entity type: an owner-specific
// active schema wins over the global one; no active schema at all is
// ErrNotFound.
func (s *Store) LoadActive(ctx context.Context, entityType, ownerID string) (*Definition, error) {
	if ownerID != "" {
		def, err := s.loadActiveRow(ctx, entityType, ScopeOwner, ownerID)
		if err == nil {
			return def, nil
		}
		if !errors.IsNotFoundError(err) {
			return nil, err
		}
	}

	def, err := s.loadActiveRow(ctx, entityType, ScopeGlobal, "")
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, errors.NewNotFoundError("no active schema for entity type %s", entityType)
		}
		return nil, err
	}
	return def, nil
}

func (s *Store) loadActiveRow(ctx context.Context, entityType string, scope Scope, ownerID string) (*Definition, error) {
	query := `SELECT ` + definitionSelectColumns + `
		FROM schema_definitions
		WHERE entity_type = ? AND scope = ? AND owner_id = ? AND active = 1`

	row := s.db.QueryRowContext(ctx, query, entityType, string(scope), ownerID)
	return scanDefinition(row)
}

// GetVersion loads one specific registered version.
func (s *Store) GetVersion(ctx context.Context, entityType string, scope Scope, ownerID, version string) (*Definition, error) {
	query := `SELECT ` + definitionSelectColumns + `
		FROM schema_definitions
		WHERE entity_type = ? AND scope = ? AND owner_id = ? AND schema_version = ?`

	row := s.db.QueryRowContext(ctx, query, entityType, string(scope), ownerID, version)
	return scanDefinition(row)
}

// Versions lists all registered versions for a key, oldest first.
func (s *Store) Versions(ctx context.Context, entityType string, scope Scope, ownerID string) ([]*Definition, error) {
	query := `SELECT ` + definitionSelectColumns + `
		FROM schema_definitions
		WHERE entity_type = ? AND scope = ? AND owner_id = ?
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, entityType, string(scope), ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list schema versions")
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate schema versions")
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var def Definition
	var scope string
	var active int
	var fieldsJSON, reducerJSON string

	err := row.Scan(&def.EntityType, &def.Version, &scope, &def.OwnerID, &active, &fieldsJSON, &reducerJSON, &def.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan schema definition")
	}

	def.Scope = Scope(scope)
	def.Active = active == 1
	if err := json.Unmarshal([]byte(fieldsJSON), &def.Fields); err != nil {
		return nil, errors.Wrap(err, "unmarshal schema fields")
	}
	if err := json.Unmarshal([]byte(reducerJSON), &def.Reducer); err != nil {
		return nil, errors.Wrap(err, "unmarshal reducer config")
	}
	return &def, nil
}
