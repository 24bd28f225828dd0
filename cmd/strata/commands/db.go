package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/display"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage Strata database operations",
	Long: `Manage database operations including migration and statistics.

Examples:
  strata db migrate               # Apply pending schema migrations
  strata db stats                 # Show row counts per table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates as part of opening.
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Database is up to date")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	tables := []string{
		"sources",
		"observations",
		"raw_fragments",
		"schema_definitions",
		"schema_recommendations",
		"enhancement_queue",
	}

	stats := make(map[string]int, len(tables))
	for _, table := range tables {
		var count int
		err := database.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(stats)
	}

	fmt.Println("Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Database Path:          %s\n\n", cfg.Database.Path)
	for _, table := range tables {
		fmt.Printf("%-24s%d\n", table+":", stats[table])
	}
	return nil
}
