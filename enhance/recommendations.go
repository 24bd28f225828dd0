package enhance

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/stratahq/strata/db"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/schema"
)

// Recommendation statuses.
const (
	RecStatusPending     = "pending"
	RecStatusAutoApplied = "auto_applied"
	RecStatusRejected    = "rejected"
)

// Recommendation is one proposed schema change for a candidate field. At
// most one exists per (entity_type, owner_scope, field_name); proposing the
// same change again returns the existing row whatever its status.
type Recommendation struct {
	ID                 int64                             `json:"id"`
	EntityType         string                            `json:"entity_type"`
	OwnerScope         string                            `json:"owner_scope,omitempty"`
	FieldName          string                            `json:"field_name"`
	RecommendationType string                            `json:"recommendation_type"`
	FieldsToAdd        map[string]schema.FieldDefinition `json:"fields_to_add,omitempty"`
	ConvertersToAdd    map[string][]schema.ConverterSpec `json:"converters_to_add,omitempty"`
	Confidence         float64                           `json:"confidence"`
	Status             string                            `json:"status"`
	CreatedAt          time.Time                         `json:"created_at"`
	UpdatedAt          time.Time                         `json:"updated_at"`
}

// Query constants
const (
	recommendationInsertQuery = `
		INSERT INTO schema_recommendations (entity_type, owner_scope, field_name, recommendation_type, fields_to_add, converters_to_add, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	recommendationSelectColumns = `id, entity_type, owner_scope, field_name, recommendation_type, fields_to_add, converters_to_add, confidence, status, created_at, updated_at`

	recommendationGetQuery = `
		SELECT ` + recommendationSelectColumns + `
		FROM schema_recommendations
		WHERE entity_type = ? AND owner_scope = ? AND field_name = ?`
)

// RecommendationStore persists schema recommendations in SQLite.
type RecommendationStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewRecommendationStore creates a recommendation store.
func NewRecommendationStore(database *sql.DB, logger *zap.SugaredLogger) *RecommendationStore {
	return &RecommendationStore{db: database, logger: logger}
}

// FindOrCreate inserts a recommendation, or returns the existing one for the
// same candidate field. created=false means the caller lost the race (or the
// proposal was made before) and must respect the existing row's status.
func (s *RecommendationStore) FindOrCreate(ctx context.Context, rec *Recommendation) (*Recommendation, bool, error) {
	fieldsJSON, err := marshalNullable(rec.FieldsToAdd)
	if err != nil {
		return nil, false, errors.Wrap(err, "marshal fields_to_add")
	}
	convertersJSON, err := marshalNullable(rec.ConvertersToAdd)
	if err != nil {
		return nil, false, errors.Wrap(err, "marshal converters_to_add")
	}

	_, err = s.db.ExecContext(ctx, recommendationInsertQuery,
		rec.EntityType,
		rec.OwnerScope,
		rec.FieldName,
		rec.RecommendationType,
		fieldsJSON,
		convertersJSON,
		rec.Confidence,
	)
	if err != nil {
		if !db.IsUniqueConstraintViolation(err) {
			return nil, false, errors.Wrap(err, "failed to insert recommendation")
		}
		existing, getErr := s.Get(ctx, rec.EntityType, rec.OwnerScope, rec.FieldName)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}

	created, err := s.Get(ctx, rec.EntityType, rec.OwnerScope, rec.FieldName)
	if err != nil {
		return nil, false, err
	}
	if s.logger != nil {
		s.logger.Infow("Created schema recommendation",
			"entity_type", rec.EntityType,
			"field", rec.FieldName,
			"type", rec.RecommendationType,
			"confidence", rec.Confidence,
		)
	}
	return created, true, nil
}

// Get retrieves the recommendation for one candidate field.
func (s *RecommendationStore) Get(ctx context.Context, entityType, ownerScope, fieldName string) (*Recommendation, error) {
	return scanRecommendation(s.db.QueryRowContext(ctx, recommendationGetQuery, entityType, ownerScope, fieldName))
}

// UpdateStatus transitions a recommendation to a new status.
func (s *RecommendationStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE schema_recommendations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return errors.Wrap(err, "failed to update recommendation status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("recommendation %d not found", id)
	}
	return nil
}

// ListByStatus returns recommendations in one status, oldest first.
func (s *RecommendationStore) ListByStatus(ctx context.Context, status string) ([]*Recommendation, error) {
	query := `SELECT ` + recommendationSelectColumns + `
		FROM schema_recommendations
		WHERE status = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recommendations")
	}
	defer rows.Close()

	var recs []*Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecommendation(row rowScanner) (*Recommendation, error) {
	var rec Recommendation
	var fieldsJSON, convertersJSON sql.NullString

	err := row.Scan(&rec.ID, &rec.EntityType, &rec.OwnerScope, &rec.FieldName, &rec.RecommendationType,
		&fieldsJSON, &convertersJSON, &rec.Confidence, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan recommendation")
	}

	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &rec.FieldsToAdd); err != nil {
			return nil, errors.Wrap(err, "unmarshal fields_to_add")
		}
	}
	if convertersJSON.Valid && convertersJSON.String != "" {
		if err := json.Unmarshal([]byte(convertersJSON.String), &rec.ConvertersToAdd); err != nil {
			return nil, errors.Wrap(err, "unmarshal converters_to_add")
		}
	}
	return &rec, nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch value := v.(type) {
	case map[string]schema.FieldDefinition:
		if len(value) == 0 {
			return sql.NullString{}, nil
		}
	case map[string][]schema.ConverterSpec:
		if len(value) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
