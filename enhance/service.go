package enhance

import (
	"context"

	"go.uber.org/zap"

	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/schema"
	"github.com/stratahq/strata/typeinfer"
)

// Outcome reports what one enhancement attempt did.
type Outcome struct {
	Applied        bool               `json:"applied"`
	Reason         string             `json:"reason,omitempty"`
	Recommendation *Recommendation    `json:"recommendation,omitempty"`
	Definition     *schema.Definition `json:"definition,omitempty"`
}

// Service runs the auto-enhancement decision for one candidate field:
// eligibility gate, idempotent recommendation, incremental schema update.
type Service struct {
	checker  *Checker
	recs     *RecommendationStore
	registry *schema.Registry
	logger   *zap.SugaredLogger
}

// NewService creates the enhancement service.
func NewService(checker *Checker, recs *RecommendationStore, registry *schema.Registry, logger *zap.SugaredLogger) *Service {
	return &Service{checker: checker, recs: recs, registry: registry, logger: logger}
}

// AutoEnhance evaluates one candidate field and, when the evidence clears
// every gate, applies the schema change and activates the new version.
// Re-running for the same candidate is a no-op: the recommendation row is
// the idempotency anchor.
func (s *Service) AutoEnhance(ctx context.Context, entityType, fragmentKey, ownerScope string) (*Outcome, error) {
	verdict, err := s.checker.Check(ctx, entityType, fragmentKey, ownerScope)
	if err != nil {
		return nil, err
	}
	if !verdict.Eligible {
		return &Outcome{Reason: verdict.Reason}, nil
	}

	rec := buildRecommendation(entityType, fragmentKey, ownerScope, verdict)
	rec, created, err := s.recs.FindOrCreate(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created && rec.Status != RecStatusPending {
		return &Outcome{
			Reason:         "recommendation already " + rec.Status,
			Recommendation: rec,
		}, nil
	}

	update := schema.IncrementalUpdate{
		EntityType:      entityType,
		OwnerID:         ownerScope,
		FieldsToAdd:     rec.FieldsToAdd,
		ConvertersToAdd: rec.ConvertersToAdd,
		Activate:        true,
		MigrateExisting: true,
	}
	def, err := s.registry.UpdateIncremental(ctx, update)
	if err != nil {
		if errors.IsInvalidRequestError(err) {
			// The schema moved underneath us (e.g. the field's target was
			// removed by a concurrent owner override). Reject rather than retry.
			if markErr := s.recs.UpdateStatus(ctx, rec.ID, RecStatusRejected); markErr != nil {
				return nil, markErr
			}
			return &Outcome{Reason: err.Error(), Recommendation: rec}, nil
		}
		return nil, err
	}

	if err := s.recs.UpdateStatus(ctx, rec.ID, RecStatusAutoApplied); err != nil {
		return nil, err
	}
	rec.Status = RecStatusAutoApplied

	if s.logger != nil {
		s.logger.Infow("Auto-applied schema enhancement",
			"entity_type", entityType,
			"field", fragmentKey,
			"recommendation_type", rec.RecommendationType,
			"confidence", rec.Confidence,
			"version", def.Version,
		)
	}
	return &Outcome{Applied: true, Recommendation: rec, Definition: def}, nil
}

func buildRecommendation(entityType, fragmentKey, ownerScope string, verdict *Eligibility) *Recommendation {
	rec := &Recommendation{
		EntityType:         entityType,
		OwnerScope:         ownerScope,
		FieldName:          fragmentKey,
		RecommendationType: verdict.RecommendationType,
		Confidence:         verdict.Confidence.Score,
	}

	switch verdict.RecommendationType {
	case RecommendAddFields:
		fieldType := string(verdict.InferredType)
		field := schema.FieldDefinition{Type: fieldType}
		// A date field learned from epoch-shaped numbers gets its converter
		// up front so future raw values validate instead of re-fragmenting.
		if verdict.InferredType == typeinfer.KindDate && verdict.Confidence.EpochUnit != "" {
			field.Converters = []schema.ConverterSpec{{
				From:          string(typeinfer.KindNumber),
				To:            fieldType,
				Function:      "epoch_" + verdict.Confidence.EpochUnit + "_to_iso8601",
				Deterministic: true,
			}}
		}
		rec.FieldsToAdd = map[string]schema.FieldDefinition{fragmentKey: field}
	case RecommendAddConverters:
		rec.ConvertersToAdd = map[string][]schema.ConverterSpec{fragmentKey: {*verdict.Converter}}
	}
	return rec
}
