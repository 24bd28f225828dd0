package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stratahq/strata/capability"
	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/enhance"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/fragment"
	"github.com/stratahq/strata/identity"
	"github.com/stratahq/strata/observation"
	"github.com/stratahq/strata/schema"
)

// Service is the ingestion pipeline facade.
type Service struct {
	capabilities *capability.Registry
	schemas      *schema.Registry
	observations *observation.Store
	fragments    *fragment.Store
	queue        *enhance.Queue
	logger       *zap.SugaredLogger

	mu  sync.RWMutex
	cfg config.EnhanceConfig
}

// NewService creates the ingestion service.
func NewService(
	capabilities *capability.Registry,
	schemas *schema.Registry,
	observations *observation.Store,
	fragments *fragment.Store,
	queue *enhance.Queue,
	cfg config.EnhanceConfig,
	logger *zap.SugaredLogger,
) *Service {
	return &Service{
		capabilities: capabilities,
		schemas:      schemas,
		observations: observations,
		fragments:    fragments,
		queue:        queue,
		cfg:          cfg,
		logger:       logger,
	}
}

// SetConfig swaps the enhancement thresholds, typically from a config reload.
func (s *Service) SetConfig(cfg config.EnhanceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Service) frequencyThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.FrequencyThreshold
}

// extractedEntity is one entity a payload implies, with the fields observed
// about it.
type extractedEntity struct {
	EntityType string
	EntityID   string
	Fields     map[string]interface{}
}

// Ingest runs the full write path for one envelope: identity computation,
// entity extraction, per-field validation, observation and fragment writes,
// and enhancement-candidate enqueueing. Re-ingesting identical content is
// idempotent everywhere except the submission id.
func (s *Service) Ingest(ctx context.Context, env *Envelope) (*Result, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	cap, err := s.capabilities.Get(env.CapabilityID)
	if err != nil {
		return nil, err
	}

	normalized, err := identity.Normalize(env.Body, cap)
	if err != nil {
		return nil, err
	}
	contentID, err := identity.ComputePayloadContentID(cap.ID, normalized, env.Provenance.SourceRefs, env.Provenance.ExtractorVersion)
	if err != nil {
		return nil, err
	}

	result := &Result{
		PayloadContentID:    contentID,
		PayloadSubmissionID: identity.NewSubmissionID(),
	}

	entities := extractEntities(cap, env.Body, contentID)
	primarySource := primarySourceRef(env.Provenance.SourceRefs)

	for _, entity := range entities {
		if err := s.recordEntity(ctx, env, entity, contentID, primarySource, result); err != nil {
			return nil, err
		}
	}

	s.logger.Infow("Ingested payload",
		"capability_id", cap.ID,
		"payload_content_id", contentID,
		"entities", len(entities),
		"observations", len(result.Observations),
		"fragments", len(result.Fragments),
	)
	return result, nil
}

// recordEntity validates one entity's fields against the active schema and
// writes the resulting observation and fragments.
func (s *Service) recordEntity(ctx context.Context, env *Envelope, entity extractedEntity, contentID, primarySource string, result *Result) error {
	active, err := s.schemas.LoadActive(ctx, entity.EntityType, env.OwnerScope)
	if err != nil && !errors.IsNotFoundError(err) {
		return err
	}

	accepted := map[string]interface{}{}
	type routed struct {
		field  string
		value  interface{}
		reason string
	}
	var toFragments []routed

	for name, value := range entity.Fields {
		if active == nil {
			toFragments = append(toFragments, routed{name, value, "no active schema"})
			continue
		}
		fieldDef, declared := active.Fields[name]
		if !declared {
			toFragments = append(toFragments, routed{name, value, "field not in schema"})
			continue
		}
		validation := schema.ValidateField(name, value, fieldDef)
		if validation.RouteToFragments {
			toFragments = append(toFragments, routed{name, value, validation.Reason})
			continue
		}
		accepted[name] = validation.Value
	}

	if len(accepted) > 0 {
		fieldHash, err := identity.ComputeCanonicalHash(accepted)
		if err != nil {
			return err
		}
		obs := &observation.Observation{
			ID:               identity.GenerateObservationID(primarySource, contentID, entity.EntityID, fieldHash),
			SourceID:         primarySource,
			InterpretationID: contentID,
			EntityType:       entity.EntityType,
			EntityID:         entity.EntityID,
			Fields:           accepted,
			FieldHash:        fieldHash,
			OwnerScope:       env.OwnerScope,
		}
		if _, err := s.observations.Put(ctx, obs); err != nil {
			return err
		}
		result.Observations = append(result.Observations, obs)
	}

	for _, r := range toFragments {
		frag := &fragment.Fragment{
			EntityType:     entity.EntityType,
			EntityID:       entity.EntityID,
			FragmentKey:    r.field,
			FragmentValue:  encodeFragmentValue(r.value),
			SourceID:       primarySource,
			OwnerScope:     env.OwnerScope,
			EnvelopeReason: r.reason,
		}
		if err := s.fragments.Record(ctx, frag); err != nil {
			return err
		}
		result.Fragments = append(result.Fragments, RoutedFragment{
			EntityType: entity.EntityType,
			EntityID:   entity.EntityID,
			FieldName:  r.field,
			Reason:     r.reason,
		})
		if err := s.maybeEnqueue(ctx, entity.EntityType, r.field, env.OwnerScope); err != nil {
			return err
		}
	}
	return nil
}

// maybeEnqueue adds a fragment field to the enhancement queue once its
// accumulated frequency crosses the threshold. The queue's live-item
// uniqueness makes repeated crossings a no-op.
func (s *Service) maybeEnqueue(ctx context.Context, entityType, fragmentKey, ownerScope string) error {
	stats, err := s.fragments.Stats(ctx, entityType, fragmentKey, ownerScope)
	if err != nil {
		return err
	}
	if stats.TotalFrequency < s.frequencyThreshold() {
		return nil
	}
	_, _, err = s.queue.Enqueue(ctx, entityType, fragmentKey, ownerScope, stats.TotalFrequency)
	return err
}

// extractEntities applies the capability's extraction rules to the raw body.
// Extraction reads the unnormalized body so canonicalization rules (which
// exist for identity, not extraction) cannot hide fields from the rules.
func extractEntities(cap *capability.Capability, body map[string]interface{}, contentID string) []extractedEntity {
	var entities []extractedEntity
	for _, rule := range cap.ExtractionRules {
		switch rule.Type {
		case capability.ExtractPayloadSelf:
			name := identity.DeriveCanonicalNameFromFields(rule.EntityType, body)
			if name == "" {
				// No usable field: the content id is the stable fallback key.
				name = contentID
			}
			entities = append(entities, extractedEntity{
				EntityType: rule.EntityType,
				EntityID:   identity.GenerateEntityID(rule.EntityType, name),
				Fields:     body,
			})
		case capability.ExtractFieldValue:
			name, ok := stringValue(body[rule.SourceField])
			if !ok {
				continue
			}
			entities = append(entities, extractedEntity{
				EntityType: rule.EntityType,
				EntityID:   identity.GenerateEntityID(rule.EntityType, name),
				Fields:     map[string]interface{}{rule.SourceField: name},
			})
		case capability.ExtractArrayItems:
			items, ok := body[rule.SourceField].([]interface{})
			if !ok {
				continue
			}
			for _, item := range items {
				entities = append(entities, itemEntity(rule, item, contentID)...)
			}
		}
	}
	return entities
}

func itemEntity(rule capability.ExtractionRule, item interface{}, contentID string) []extractedEntity {
	switch v := item.(type) {
	case string:
		name := strings.TrimSpace(v)
		if name == "" {
			return nil
		}
		return []extractedEntity{{
			EntityType: rule.EntityType,
			EntityID:   identity.GenerateEntityID(rule.EntityType, name),
			Fields:     map[string]interface{}{rule.SourceField: name},
		}}
	case map[string]interface{}:
		name := identity.DeriveCanonicalNameFromFields(rule.EntityType, v)
		if name == "" {
			if hash, err := identity.ComputeCanonicalHash(v); err == nil {
				name = contentID + ":" + hash
			} else {
				return nil
			}
		}
		return []extractedEntity{{
			EntityType: rule.EntityType,
			EntityID:   identity.GenerateEntityID(rule.EntityType, name),
			Fields:     v,
		}}
	default:
		return nil
	}
}

func stringValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// primarySourceRef picks the source an observation is attributed to. Sorting
// first keeps the choice independent of the envelope's ref ordering, matching
// the content id's order independence.
func primarySourceRef(refs []string) string {
	sorted := make([]string, len(refs))
	copy(sorted, refs)
	sort.Strings(sorted)
	return sorted[0]
}

// encodeFragmentValue stores fragment values as JSON so migration can decode
// them back into typed runtime values.
func encodeFragmentValue(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
