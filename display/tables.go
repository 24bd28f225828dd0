package display

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"

	"github.com/stratahq/strata/enhance"
	"github.com/stratahq/strata/schema"
)

// RenderSchemaFields prints one schema definition's fields as a table.
func RenderSchemaFields(def *schema.Definition) error {
	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	data := pterm.TableData{{"Field", "Type", "Required", "Converters"}}
	for _, name := range names {
		field := def.Fields[name]
		converters := make([]string, len(field.Converters))
		for i, spec := range field.Converters {
			converters[i] = spec.Function
		}
		data = append(data, []string{
			name,
			field.Type,
			fmt.Sprintf("%t", field.Required),
			strings.Join(converters, ", "),
		})
	}

	pterm.Printf("%s %s (scope %s", pterm.LightCyan(def.EntityType), def.Version, def.Scope)
	if def.OwnerID != "" {
		pterm.Printf(", owner %s", def.OwnerID)
	}
	if def.Active {
		pterm.Printf(", %s", pterm.Green("active"))
	}
	pterm.Println(")")
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// RenderSchemaHistory prints the version log for one schema key.
func RenderSchemaHistory(versions []*schema.Definition) error {
	data := pterm.TableData{{"Version", "Scope", "Owner", "Active", "Fields", "Created"}}
	for _, def := range versions {
		active := ""
		if def.Active {
			active = pterm.Green("yes")
		}
		data = append(data, []string{
			def.Version,
			string(def.Scope),
			def.OwnerID,
			active,
			fmt.Sprintf("%d", len(def.Fields)),
			def.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// RenderQueueStats prints item counts per queue status.
func RenderQueueStats(stats map[string]int) error {
	order := []string{
		enhance.StatusPending,
		enhance.StatusProcessing,
		enhance.StatusCompleted,
		enhance.StatusSkipped,
		enhance.StatusFailed,
	}

	data := pterm.TableData{{"Status", "Items"}}
	total := 0
	for _, status := range order {
		data = append(data, []string{status, fmt.Sprintf("%d", stats[status])})
		total += stats[status]
	}
	data = append(data, []string{"total", fmt.Sprintf("%d", total)})
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
