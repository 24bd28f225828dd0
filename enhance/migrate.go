package enhance

import (
	"context"

	"go.uber.org/zap"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/fragment"
	"github.com/stratahq/strata/identity"
	"github.com/stratahq/strata/observation"
	"github.com/stratahq/strata/schema"
)

// Migrator promotes accumulated raw fragments into observations after a
// schema update declares their field. It implements schema.Migrator so
// incremental updates with MigrateExisting set trigger it automatically.
type Migrator struct {
	fragments    *fragment.Store
	observations *observation.Store
	schemas      *schema.Registry
	cfg          config.MigrationConfig
	logger       *zap.SugaredLogger
}

// NewMigrator creates a fragment migrator.
func NewMigrator(fragments *fragment.Store, observations *observation.Store, schemas *schema.Registry, cfg config.MigrationConfig, logger *zap.SugaredLogger) *Migrator {
	return &Migrator{
		fragments:    fragments,
		observations: observations,
		schemas:      schemas,
		cfg:          cfg,
		logger:       logger,
	}
}

// MigrateFragments re-validates stored fragments for the given fields under
// the active schema, promotes conforming values into observations, and
// deletes the promoted fragments. Runs in batches with a hard per-invocation
// row cap; leftover rows wait for the next pass. Returns the number of
// fragments promoted.
func (m *Migrator) MigrateFragments(ctx context.Context, entityType string, fieldNames []string, ownerID string) (int, error) {
	if len(fieldNames) == 0 {
		return 0, nil
	}

	def, err := m.schemas.LoadActive(ctx, entityType, ownerID)
	if err != nil {
		return 0, errors.Wrapf(err, "load active schema for %s migration", entityType)
	}

	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRows := m.cfg.MaxRowsPerRun
	if maxRows <= 0 {
		maxRows = 10000
	}

	promoted := 0
	scanned := 0
	offset := 0

	for scanned < maxRows {
		page, err := m.fragments.Page(ctx, entityType, fieldNames, ownerID, batchSize, offset)
		if err != nil {
			return promoted, err
		}
		if len(page) == 0 {
			break
		}

		var promotedIDs []int64
		for _, frag := range page {
			if scanned >= maxRows {
				break
			}
			scanned++

			if m.promoteFragment(ctx, def, frag) {
				promotedIDs = append(promotedIDs, frag.ID)
			}
		}

		if err := m.fragments.Delete(ctx, promotedIDs); err != nil {
			return promoted, err
		}
		promoted += len(promotedIDs)

		// Deleted rows vanish from subsequent pages; only rows left in place
		// advance the offset.
		offset += len(page) - len(promotedIDs)
	}

	if m.logger != nil {
		m.logger.Infow("Fragment migration pass finished",
			"entity_type", entityType,
			"fields", fieldNames,
			"scanned", scanned,
			"promoted", promoted,
		)
	}
	return promoted, nil
}

// promoteFragment validates one fragment under the active schema and writes
// the resulting observation. Returns false when the fragment stays put:
// entity unknown, field undeclared, or the value still fails validation.
func (m *Migrator) promoteFragment(ctx context.Context, def *schema.Definition, frag *fragment.Fragment) bool {
	if frag.EntityID == "" {
		// Recorded before entity attribution existed; nothing to attach an
		// observation to.
		return false
	}
	fieldDef, declared := def.Fields[frag.FragmentKey]
	if !declared {
		return false
	}

	value := ParseFragmentValue(frag.FragmentValue)
	validation := schema.ValidateField(frag.FragmentKey, value, fieldDef)
	if validation.RouteToFragments {
		return false
	}

	fields := map[string]interface{}{frag.FragmentKey: validation.Value}
	fieldHash, err := identity.ComputeCanonicalHash(fields)
	if err != nil {
		if m.logger != nil {
			m.logger.Warnw("Skipping fragment with unhashable value",
				"fragment_id", frag.ID,
				"fragment_key", frag.FragmentKey,
				"error", err,
			)
		}
		return false
	}

	// The interpretation id ties the observation to the schema version that
	// legitimized it, keeping promoted observations distinct from (and
	// idempotent against) future promotions under later versions.
	interpretationID := "mig_" + frag.EntityType + "_" + def.Version
	obs := &observation.Observation{
		ID:               identity.GenerateObservationID(frag.SourceID, interpretationID, frag.EntityID, fieldHash),
		SourceID:         frag.SourceID,
		InterpretationID: interpretationID,
		EntityType:       frag.EntityType,
		EntityID:         frag.EntityID,
		Fields:           fields,
		FieldHash:        fieldHash,
		OwnerScope:       frag.OwnerScope,
	}

	if _, err := m.observations.Put(ctx, obs); err != nil {
		if m.logger != nil {
			m.logger.Warnw("Failed to promote fragment",
				"fragment_id", frag.ID,
				"fragment_key", frag.FragmentKey,
				"error", err,
			)
		}
		return false
	}
	return true
}
