package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var sequenceStrategy string

var sequenceCmd = &cobra.Command{
	Use:   "sequence <schedule-id>",
	Short: "Resequence the pending entries of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{}
		if sequenceStrategy != "" {
			body["strategy"] = sequenceStrategy
		}
		var view scheduleView
		if err := client.postJSON(apiBase+"/schedules/"+args[0]+"/sequence", body, &view); err != nil {
			return fmt.Errorf("failed to resequence: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		printEntryTable(view.Entries)
		return nil
	},
}

var feasibilityRefresh bool

var feasibilityCmd = &cobra.Command{
	Use:   "feasibility <schedule-id>",
	Short: "Evaluate capacity and material constraints for a schedule",
	Long: `Evaluate capacity and material constraints for every active entry.

Without --refresh the evaluation is read-only. With --refresh the stored
constraint records are reconciled against the result: new violations open
records, cleared ones are marked resolved, and overrides are preserved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var report feasibilityReport
		var err error
		if feasibilityRefresh {
			err = client.postJSON(apiBase+"/schedules/"+args[0]+"/feasibility/refresh", nil, &report)
		} else {
			err = client.getJSON(apiBase+"/schedules/"+args[0]+"/feasibility", &report)
		}
		if err != nil {
			return fmt.Errorf("feasibility check failed: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(report)
		}

		if report.Feasible {
			fmt.Printf("Schedule %s is feasible\n", report.ScheduleID)
		} else {
			fmt.Printf("Schedule %s is NOT feasible\n", report.ScheduleID)
		}
		var rows [][]string
		for entryID, violations := range report.ViolationsByEntry {
			for _, v := range violations {
				rows = append(rows, []string{
					entryID,
					v.Type,
					v.Severity,
					v.TargetID,
					strconv.FormatFloat(v.Required, 'f', -1, 64),
					strconv.FormatFloat(v.Available, 'f', -1, 64),
					truncate(v.Message, 60),
				})
			}
		}
		if len(rows) > 0 {
			fmt.Println()
			printTable([]string{"entry", "type", "severity", "target", "required", "available", "message"}, rows)
		}
		return nil
	},
}

var constraintsUnresolved bool

var constraintsCmd = &cobra.Command{
	Use:   "constraints <schedule-id>",
	Short: "List the constraint records of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := apiBase + "/schedules/" + args[0] + "/constraints"
		if constraintsUnresolved {
			path += "?unresolved=true"
		}
		var list constraintList
		if err := client.getJSON(path, &list); err != nil {
			return fmt.Errorf("failed to list constraints: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(list)
		}

		rows := make([][]string, 0, len(list.Constraints))
		for _, c := range list.Constraints {
			status := "open"
			switch {
			case c.Overridden:
				status = "overridden"
			case c.Resolved:
				status = "resolved"
			}
			rows = append(rows, []string{
				c.ID,
				c.EntryID,
				c.Type,
				c.TargetID,
				c.Severity,
				status,
				truncate(c.Message, 50),
			})
		}
		printTable([]string{"id", "entry", "type", "target", "severity", "status", "message"}, rows)
		return nil
	},
}

var overrideReason string

var overrideCmd = &cobra.Command{
	Use:   "override <constraint-id>",
	Short: "Override an open constraint with a justification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var view constraintView
		body := map[string]any{"reason": overrideReason}
		if err := client.postJSON(apiBase+"/constraints/"+args[0]+"/override", body, &view); err != nil {
			return fmt.Errorf("failed to override constraint: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Printf("Constraint %s overridden by %s\n", view.ID, view.ResolvedBy)
		return nil
	},
}

var transitionReason string

var transitionCmd = &cobra.Command{
	Use:   "transition (schedule|entry) <id> <to-state>",
	Short: "Request a state transition on a schedule or entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, to := args[0], args[1], stateArg(args[2])
		client := newClient()

		var path string
		switch kind {
		case "schedule":
			path = apiBase + "/schedules/" + id + "/transition"
		case "entry":
			path = apiBase + "/entries/" + id + "/transition"
		default:
			return fmt.Errorf("unknown transition target %q (expected schedule or entry)", kind)
		}

		body := map[string]any{"to": to}
		if transitionReason != "" {
			body["reason"] = transitionReason
		}
		var result map[string]any
		if err := client.postJSON(path, body, &result); err != nil {
			return fmt.Errorf("transition failed: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("%s %s is now %v\n", kind, id, result["state"])
		return nil
	},
}

var dispatchAll bool

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <entry-id> | dispatch --all <schedule-id>",
	Short: "Dispatch an entry, or every READY entry of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if dispatchAll {
			var batch dispatchBatchView
			if err := client.postJSON(apiBase+"/schedules/"+args[0]+"/dispatch", nil, &batch); err != nil {
				return fmt.Errorf("batch dispatch failed: %w", err)
			}

			if outputFmt != "table" {
				return printOutput(batch)
			}
			rows := make([][]string, 0, len(batch.Outcomes))
			for _, o := range batch.Outcomes {
				detail := o.WorkOrderID
				if o.Error != "" {
					detail = truncate(o.Error, 60)
				}
				rows = append(rows, []string{o.EntryID, o.Status, detail})
			}
			printTable([]string{"entry", "status", "work order / error"}, rows)
			fmt.Printf("\n%d dispatched, %d failed\n", batch.Dispatched, batch.Failed)
			return nil
		}

		var view dispatchView
		if err := client.postJSON(apiBase+"/entries/"+args[0]+"/dispatch", nil, &view); err != nil {
			return fmt.Errorf("dispatch failed: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Printf("Entry %s dispatched as work order %s\n", view.EntryID, view.WorkOrderID)
		return nil
	},
}

var dispatchesCmd = &cobra.Command{
	Use:   "dispatches <schedule-id>",
	Short: "List the dispatch records of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var list dispatchList
		if err := client.getJSON(apiBase+"/schedules/"+args[0]+"/dispatches", &list); err != nil {
			return fmt.Errorf("failed to list dispatches: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(list)
		}
		rows := make([][]string, 0, len(list.Dispatches))
		for _, d := range list.Dispatches {
			rows = append(rows, []string{d.EntryID, d.WorkOrderID, d.ActorID, shortTime(d.DispatchedAt)})
		}
		printTable([]string{"entry", "work order", "actor", "dispatched at"}, rows)
		return nil
	},
}

var (
	historyEntityType string
	historyPageSize   int
	historyPageToken  string
)

var historyCmd = &cobra.Command{
	Use:   "history [<entity-type> <entity-id>]",
	Short: "Browse the state transition log",
	Long: `Browse the state transition log, newest first.

Without arguments the whole log is listed, optionally narrowed with
--entity-type. With an entity type and id, only that entity's history is
shown. Entity types: schedule, entry, constraint.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return fmt.Errorf("history takes either no arguments or an entity type and id")
		}
		client := newClient()

		q := url.Values{}
		if historyPageSize > 0 {
			q.Set("pageSize", strconv.Itoa(historyPageSize))
		}
		if historyPageToken != "" {
			q.Set("pageToken", historyPageToken)
		}

		var path string
		if len(args) == 2 {
			path = fmt.Sprintf("%s/history/%s/%s", apiBase, args[0], args[1])
		} else {
			path = apiBase + "/history"
			if historyEntityType != "" {
				q.Set("entityType", historyEntityType)
			}
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var list transitionEventList
		if err := client.getJSON(path, &list); err != nil {
			return fmt.Errorf("failed to fetch history: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(list)
		}

		rows := make([][]string, 0, len(list.Events))
		for _, ev := range list.Events {
			rows = append(rows, []string{
				shortTime(ev.CreatedAt),
				ev.EntityType,
				truncate(ev.EntityID, 12),
				ev.OldState,
				ev.NewState,
				ev.ActorID,
				truncate(ev.Reason, 40),
			})
		}
		printTable([]string{"time", "entity", "id", "from", "to", "actor", "reason"}, rows)
		if list.NextPageToken != "" {
			fmt.Printf("\nNext page: --page-token %s\n", list.NextPageToken)
		}
		return nil
	},
}

func init() {
	sequenceCmd.Flags().StringVar(&sequenceStrategy, "strategy", "", "Sequencing strategy (priority or edd)")
	feasibilityCmd.Flags().BoolVar(&feasibilityRefresh, "refresh", false, "Persist the result as constraint records")
	constraintsCmd.Flags().BoolVar(&constraintsUnresolved, "unresolved", false, "Only show unresolved constraints")
	overrideCmd.Flags().StringVar(&overrideReason, "reason", "", "Justification for the override (required)")
	_ = overrideCmd.MarkFlagRequired("reason")
	transitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded with the transition")
	dispatchCmd.Flags().BoolVar(&dispatchAll, "all", false, "Dispatch every READY entry of the schedule")
	historyCmd.Flags().StringVar(&historyEntityType, "entity-type", "", "Narrow the full log to one entity type")
	historyCmd.Flags().IntVar(&historyPageSize, "page-size", 0, "Page size")
	historyCmd.Flags().StringVar(&historyPageToken, "page-token", "", "Page token from a previous call")
}
