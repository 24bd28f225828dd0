package schema

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/stratahq/strata/convert"
	"github.com/stratahq/strata/errors"
)

// Migrator is the hook the auto-enhancement layer plugs in so incremental
// updates can promote accumulated raw fragments under the new schema. Kept
// as an interface to avoid a dependency cycle with the enhancement package.
type Migrator interface {
	MigrateFragments(ctx context.Context, entityType string, fieldNames []string, ownerID string) (int, error)
}

// Registry exposes schema evolution on top of the version store.
type Registry struct {
	store    *Store
	migrator Migrator
	logger   *zap.SugaredLogger
}

// NewRegistry creates a schema registry.
func NewRegistry(store *Store, logger *zap.SugaredLogger) *Registry {
	return &Registry{store: store, logger: logger}
}

// SetMigrator installs the fragment migrator invoked by incremental updates
// with MigrateExisting set.
func (r *Registry) SetMigrator(m Migrator) {
	r.migrator = m
}

// Store returns the underlying version store.
func (r *Registry) Store() *Store {
	return r.store
}

// Register validates and inserts a new schema version, optionally activating
// it immediately.
func (r *Registry) Register(ctx context.Context, def *Definition, activate bool) error {
	if def.EntityType == "" {
		return errors.NewInvalidRequestError("schema definition has empty entity_type")
	}
	if _, err := parseVersion(def.Version); err != nil {
		return err
	}
	if def.Scope == ScopeOwner && def.OwnerID == "" {
		return errors.NewInvalidRequestError("owner-scoped schema requires owner_id")
	}
	if def.Scope == ScopeGlobal {
		def.OwnerID = ""
	}
	for name, field := range def.Fields {
		for _, spec := range field.Converters {
			if !convert.Exists(spec.Function) {
				return errors.NewInvalidRequestError("field %s references unknown converter function %s", name, spec.Function)
			}
		}
	}

	if err := r.store.Register(ctx, def); err != nil {
		return err
	}
	if activate {
		return r.store.Activate(ctx, def.EntityType, def.Scope, def.OwnerID, def.Version)
	}
	return nil
}

// LoadActive resolves the active schema (owner override first, then global).
func (r *Registry) LoadActive(ctx context.Context, entityType, ownerID string) (*Definition, error) {
	return r.store.LoadActive(ctx, entityType, ownerID)
}

// UpdateIncremental evolves the active schema additively: new fields are
// merged in (a field that already exists is a logged no-op, its siblings
// still apply), new converters are appended to existing fields (a converter
// targeting a field absent from the schema is a hard error, the caller has
// a bug), the minor version is bumped, and the result is registered as a new
// row. When nothing would change, the active definition is returned as-is
// with no version bump, which is what makes repeated identical updates
// idempotent.
func (r *Registry) UpdateIncremental(ctx context.Context, req IncrementalUpdate) (*Definition, error) {
	if req.EntityType == "" {
		return nil, errors.NewInvalidRequestError("incremental update has empty entity_type")
	}

	scope := ScopeGlobal
	if req.OwnerID != "" {
		scope = ScopeOwner
	}

	current, err := r.store.LoadActive(ctx, req.EntityType, req.OwnerID)
	if err != nil {
		if !errors.IsNotFoundError(err) {
			return nil, err
		}
		// No active schema yet: bootstrap an initial version from the added
		// fields. Converters alone have nothing to attach to.
		if len(req.FieldsToAdd) == 0 {
			return nil, errors.NewInvalidRequestError(
				"no active schema for %s and no fields to bootstrap one", req.EntityType)
		}
		current = &Definition{
			EntityType: req.EntityType,
			Version:    "0.0",
			Scope:      scope,
			OwnerID:    req.OwnerID,
			Fields:     map[string]FieldDefinition{},
		}
	}

	merged := make(map[string]FieldDefinition, len(current.Fields)+len(req.FieldsToAdd))
	for name, field := range current.Fields {
		merged[name] = field
	}

	changed := false
	var addedFields []string
	for name, field := range req.FieldsToAdd {
		if _, exists := merged[name]; exists {
			if r.logger != nil {
				r.logger.Infow("Skipping field addition (already in schema)",
					"entity_type", req.EntityType,
					"field", name,
				)
			}
			continue
		}
		for _, spec := range field.Converters {
			if !convert.Exists(spec.Function) {
				return nil, errors.NewInvalidRequestError("field %s references unknown converter function %s", name, spec.Function)
			}
		}
		merged[name] = field
		addedFields = append(addedFields, name)
		changed = true
	}

	var convertedFields []string
	for fieldName, specs := range req.ConvertersToAdd {
		target, exists := merged[fieldName]
		if !exists {
			return nil, errors.NewInvalidRequestError(
				"cannot add converter to nonexistent field %s on %s", fieldName, req.EntityType)
		}
		fieldChanged := false
		for _, spec := range specs {
			if !convert.Exists(spec.Function) {
				return nil, errors.NewInvalidRequestError("converter function %s does not exist", spec.Function)
			}
			if hasConverter(target.Converters, spec) {
				if r.logger != nil {
					r.logger.Infow("Skipping converter addition (already declared)",
						"entity_type", req.EntityType,
						"field", fieldName,
						"function", spec.Function,
					)
				}
				continue
			}
			target.Converters = append(target.Converters, spec)
			changed = true
			fieldChanged = true
		}
		if fieldChanged {
			convertedFields = append(convertedFields, fieldName)
		}
		merged[fieldName] = target
	}

	if !changed {
		return current, nil
	}

	next := &Definition{
		EntityType: req.EntityType,
		Version:    bumpMinor(current.Version),
		Scope:      scope,
		OwnerID:    req.OwnerID,
		Fields:     merged,
		Reducer:    current.Reducer,
	}

	if err := r.store.Register(ctx, next); err != nil {
		return nil, err
	}
	if req.Activate {
		if err := r.store.Activate(ctx, next.EntityType, next.Scope, next.OwnerID, next.Version); err != nil {
			return nil, err
		}
		next.Active = true
	}

	// New converters make previously non-conforming fragments promotable, so
	// their fields migrate alongside newly added fields.
	migrateFields := append(addedFields, convertedFields...)
	if req.MigrateExisting && r.migrator != nil && len(migrateFields) > 0 {
		migrated, err := r.migrator.MigrateFragments(ctx, req.EntityType, migrateFields, req.OwnerID)
		if err != nil {
			// The new version is already registered; migration is resumable
			// on the next scheduled pass, so this is a warning, not a rollback.
			if r.logger != nil {
				r.logger.Warnw("Fragment migration after schema update failed",
					"entity_type", req.EntityType,
					"error", err,
				)
			}
		} else if r.logger != nil {
			r.logger.Infow("Migrated fragments under new schema version",
				"entity_type", req.EntityType,
				"version", next.Version,
				"migrated", migrated,
			)
		}
	}

	return next, nil
}

func hasConverter(existing []ConverterSpec, candidate ConverterSpec) bool {
	for _, spec := range existing {
		if spec.Function == candidate.Function && spec.From == candidate.From && spec.To == candidate.To {
			return true
		}
	}
	return false
}

// parseVersion validates a dotted MAJOR.MINOR version string. Masterminds
// semver tolerates the missing patch component.
func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.NewInvalidRequestError("invalid schema version %q: %v", version, err)
	}
	return v, nil
}

// bumpMinor produces the next MAJOR.MINOR version string.
func bumpMinor(version string) string {
	v, err := parseVersion(version)
	if err != nil {
		// Registered versions are validated on the way in; an unparseable
		// stored version is an assertion failure, but degrade to a restart
		// of the minor sequence rather than poisoning the write path.
		return "1.1"
	}
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor()+1)
}
