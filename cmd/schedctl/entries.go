package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "Manage schedule entries",
}

var (
	addOperation   string
	addPart        string
	addQuantity    float64
	addPriority    int
	addDue         string
	addResource    string
	addHours       float64
	addMaterial    string
	addMaterialQty float64
)

var entriesAddCmd = &cobra.Command{
	Use:   "add <schedule-id>",
	Short: "Add a PLANNED entry to a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{
			"operationRef": addOperation,
			"partRef":      addPart,
			"quantity":     addQuantity,
			"priority":     addPriority,
			"dueDate":      addDue,
		}
		if addResource != "" {
			body["resourceId"] = addResource
			body["requiredHours"] = addHours
		}
		if addMaterial != "" {
			body["materialId"] = addMaterial
			body["materialQuantity"] = addMaterialQty
		}

		var view entryView
		if err := client.postJSON(apiBase+"/schedules/"+args[0]+"/entries", body, &view); err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Printf("Added entry %s at position %d (%s)\n", view.ID, view.SequencePosition, view.State)
		return nil
	},
}

var entriesGetCmd = &cobra.Command{
	Use:   "get <entry-id>",
	Short: "Get a single entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var view entryView
		if err := client.getJSON(apiBase+"/entries/"+args[0], &view); err != nil {
			return fmt.Errorf("failed to get entry: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		printEntryTable([]entryView{view})
		return nil
	},
}

var entriesListFilter string

var entriesListCmd = &cobra.Command{
	Use:   "list <schedule-id>",
	Short: "List entries of a schedule, optionally filtered",
	Long: `List entries of a schedule in sequence order.

The --filter flag takes a simple expression language, for example:

  state = "PLANNED" AND priority >= 5
  resource = "CNC-7" OR material = "AL-6061"
  dueDate < "2026-09-01" AND quantity > 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := apiBase + "/schedules/" + args[0] + "/entries"
		if entriesListFilter != "" {
			path += "?filter=" + url.QueryEscape(entriesListFilter)
		}

		var list entryList
		if err := client.getJSON(path, &list); err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(list)
		}
		printEntryTable(list.Entries)
		return nil
	},
}

var removeReason string

var entriesRemoveCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Cancel an entry and compact the remaining positions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := apiBase + "/entries/" + args[0]
		if removeReason != "" {
			path += "?reason=" + url.QueryEscape(removeReason)
		}

		var view entryView
		if err := client.deleteJSON(path, &view); err != nil {
			return fmt.Errorf("failed to remove entry: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Printf("Entry %s is now %s\n", view.ID, view.State)
		return nil
	},
}

var entriesReadinessCmd = &cobra.Command{
	Use:   "readiness <entry-id>",
	Short: "Show whether an entry could be promoted to READY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var view readinessView
		if err := client.getJSON(apiBase+"/entries/"+args[0]+"/readiness", &view); err != nil {
			return fmt.Errorf("failed to check readiness: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Println(view.State)
		for _, reason := range view.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
		return nil
	},
}

func init() {
	entriesAddCmd.Flags().StringVar(&addOperation, "operation", "", "Operation reference (required)")
	entriesAddCmd.Flags().StringVar(&addPart, "part", "", "Part reference (required)")
	entriesAddCmd.Flags().Float64Var(&addQuantity, "quantity", 0, "Planned quantity (required)")
	entriesAddCmd.Flags().IntVar(&addPriority, "priority", 0, "Priority, higher is more urgent")
	entriesAddCmd.Flags().StringVar(&addDue, "due", "", "Due date, RFC3339 (required)")
	entriesAddCmd.Flags().StringVar(&addResource, "resource", "", "Resource id for capacity checks")
	entriesAddCmd.Flags().Float64Var(&addHours, "hours", 0, "Required hours on the resource")
	entriesAddCmd.Flags().StringVar(&addMaterial, "material", "", "Material lot id for material checks")
	entriesAddCmd.Flags().Float64Var(&addMaterialQty, "material-qty", 0, "Material quantity consumed")
	_ = entriesAddCmd.MarkFlagRequired("operation")
	_ = entriesAddCmd.MarkFlagRequired("part")
	_ = entriesAddCmd.MarkFlagRequired("quantity")
	_ = entriesAddCmd.MarkFlagRequired("due")

	entriesListCmd.Flags().StringVar(&entriesListFilter, "filter", "", "Filter expression")

	entriesRemoveCmd.Flags().StringVar(&removeReason, "reason", "", "Reason recorded with the cancellation")

	entriesCmd.AddCommand(entriesAddCmd)
	entriesCmd.AddCommand(entriesGetCmd)
	entriesCmd.AddCommand(entriesListCmd)
	entriesCmd.AddCommand(entriesRemoveCmd)
	entriesCmd.AddCommand(entriesReadinessCmd)
}

// stateArg uppercases a state argument so users can type "released".
func stateArg(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
