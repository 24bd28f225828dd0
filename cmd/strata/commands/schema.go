package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/display"
	"github.com/stratahq/strata/enhance"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/fragment"
	"github.com/stratahq/strata/logger"
	"github.com/stratahq/strata/observation"
	"github.com/stratahq/strata/schema"
)

// SchemaCmd represents the schema command
var SchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and evolve entity schemas",
	Long: `Inspect the active schema for an entity type, browse the version log,
and apply additive incremental updates.

Examples:
  strata schema show invoice                          # Active schema
  strata schema show invoice --owner acme             # Owner override
  strata schema history invoice                       # Version log
  strata schema update invoice --add-field due_date:date --activate`,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <entity-type>",
	Short: "Show the active schema for an entity type",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaShow,
}

var schemaHistoryCmd = &cobra.Command{
	Use:   "history <entity-type>",
	Short: "Show the schema version log for an entity type",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaHistory,
}

var schemaUpdateCmd = &cobra.Command{
	Use:   "update <entity-type>",
	Short: "Apply an additive incremental schema update",
	Long: `Add fields (name:type) and converters (field:function) to the active
schema. The minor version is bumped and the new version is registered;
--activate makes it the active version in the same call.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchemaUpdate,
}

var (
	schemaOwnerFlag    string
	schemaAddFieldFlag []string
	schemaAddConvFlag  []string
	schemaActivateFlag bool
	schemaMigrateFlag  bool
)

func init() {
	SchemaCmd.AddCommand(schemaShowCmd)
	SchemaCmd.AddCommand(schemaHistoryCmd)
	SchemaCmd.AddCommand(schemaUpdateCmd)

	SchemaCmd.PersistentFlags().StringVar(&schemaOwnerFlag, "owner", "", "Owner scope (empty targets global)")
	schemaUpdateCmd.Flags().StringArrayVar(&schemaAddFieldFlag, "add-field", nil, "Field to add as name:type (repeatable)")
	schemaUpdateCmd.Flags().StringArrayVar(&schemaAddConvFlag, "add-converter", nil, "Converter to add as field:function (repeatable)")
	schemaUpdateCmd.Flags().BoolVar(&schemaActivateFlag, "activate", false, "Activate the new version immediately")
	schemaUpdateCmd.Flags().BoolVar(&schemaMigrateFlag, "migrate", false, "Migrate matching raw fragments after activation")
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	registry := schema.NewRegistry(schema.NewStore(database, logger.Logger), logger.Logger)
	def, err := registry.LoadActive(cmd.Context(), args[0], schemaOwnerFlag)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(def)
	}
	return display.RenderSchemaFields(def)
}

func runSchemaHistory(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schema.NewStore(database, logger.Logger)
	scope := schema.ScopeGlobal
	if schemaOwnerFlag != "" {
		scope = schema.ScopeOwner
	}
	versions, err := store.Versions(cmd.Context(), args[0], scope, schemaOwnerFlag)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return errors.NewNotFoundError("no schema versions for %s", args[0])
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(versions)
	}
	return display.RenderSchemaHistory(versions)
}

func runSchemaUpdate(cmd *cobra.Command, args []string) error {
	if len(schemaAddFieldFlag) == 0 && len(schemaAddConvFlag) == 0 {
		return errors.NewInvalidRequestError("nothing to update: pass --add-field and/or --add-converter")
	}

	fieldsToAdd, err := parseFieldSpecs(schemaAddFieldFlag)
	if err != nil {
		return err
	}
	convertersToAdd, err := parseConverterSpecs(schemaAddConvFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	registry := schema.NewRegistry(schema.NewStore(database, logger.Logger), logger.Logger)
	if schemaMigrateFlag {
		fragments := fragment.NewStore(database, logger.Logger)
		observations := observation.NewStore(database, logger.Logger)
		registry.SetMigrator(enhance.NewMigrator(fragments, observations, registry, cfg.Migration, logger.Logger))
	}
	def, err := registry.UpdateIncremental(cmd.Context(), schema.IncrementalUpdate{
		EntityType:      args[0],
		OwnerID:         schemaOwnerFlag,
		FieldsToAdd:     fieldsToAdd,
		ConvertersToAdd: convertersToAdd,
		Activate:        schemaActivateFlag,
		MigrateExisting: schemaMigrateFlag,
	})
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(def)
	}
	fmt.Printf("Schema %s now at version %s\n", def.EntityType, def.Version)
	return display.RenderSchemaFields(def)
}

// parseFieldSpecs parses repeated name:type flags.
func parseFieldSpecs(specs []string) (map[string]schema.FieldDefinition, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	fields := make(map[string]schema.FieldDefinition, len(specs))
	for _, spec := range specs {
		name, fieldType, ok := strings.Cut(spec, ":")
		if !ok || name == "" || fieldType == "" {
			return nil, errors.NewInvalidRequestError("invalid --add-field %q, want name:type", spec)
		}
		fields[name] = schema.FieldDefinition{Type: fieldType}
	}
	return fields, nil
}

// parseConverterSpecs parses repeated field:function flags. The from/to pair
// is recorded from the function's naming convention when it follows
// from_to form; otherwise left blank for the registry to validate.
func parseConverterSpecs(specs []string) (map[string][]schema.ConverterSpec, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	converters := make(map[string][]schema.ConverterSpec, len(specs))
	for _, spec := range specs {
		field, function, ok := strings.Cut(spec, ":")
		if !ok || field == "" || function == "" {
			return nil, errors.NewInvalidRequestError("invalid --add-converter %q, want field:function", spec)
		}
		converters[field] = append(converters[field], schema.ConverterSpec{
			Function:      function,
			Deterministic: true,
		})
	}
	return converters, nil
}
