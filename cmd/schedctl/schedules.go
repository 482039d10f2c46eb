package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

const apiBase = "/api/v1"

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage production schedules",
}

var (
	listSite      string
	listState     string
	listPageSize  int
	listPageToken string
)

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		q := url.Values{}
		if listSite != "" {
			q.Set("siteId", listSite)
		}
		if listState != "" {
			q.Set("state", listState)
		}
		if listPageSize > 0 {
			q.Set("pageSize", strconv.Itoa(listPageSize))
		}
		if listPageToken != "" {
			q.Set("pageToken", listPageToken)
		}
		path := apiBase + "/schedules"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var list scheduleList
		if err := client.getJSON(path, &list); err != nil {
			return fmt.Errorf("failed to list schedules: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(list)
		}

		rows := make([][]string, 0, len(list.Schedules))
		for _, s := range list.Schedules {
			rows = append(rows, []string{
				s.ID,
				s.SiteID,
				s.State,
				shortTime(s.HorizonStart),
				shortTime(s.HorizonEnd),
				strconv.FormatInt(s.Version, 10),
			})
		}
		printTable([]string{"id", "site", "state", "horizon start", "horizon end", "version"}, rows)
		if list.NextPageToken != "" {
			fmt.Printf("\nNext page: --page-token %s\n", list.NextPageToken)
		}
		return nil
	},
}

var schedulesGetCmd = &cobra.Command{
	Use:   "get <schedule-id>",
	Short: "Get a schedule with its entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var view scheduleView
		if err := client.getJSON(apiBase+"/schedules/"+args[0], &view); err != nil {
			return fmt.Errorf("failed to get schedule: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}

		fmt.Printf("Schedule %s  site=%s  state=%s  version=%d\n", view.ID, view.SiteID, view.State, view.Version)
		fmt.Printf("Horizon %s to %s\n\n", shortTime(view.HorizonStart), shortTime(view.HorizonEnd))
		printEntryTable(view.Entries)
		return nil
	},
}

var (
	createSite  string
	createStart string
	createEnd   string
)

var schedulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule in FORECAST",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{
			"siteId":       createSite,
			"horizonStart": createStart,
			"horizonEnd":   createEnd,
		}
		var view scheduleView
		if err := client.postJSON(apiBase+"/schedules", body, &view); err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Printf("Created schedule %s (site %s, %s)\n", view.ID, view.SiteID, view.State)
		return nil
	},
}

var (
	horizonStart string
	horizonEnd   string
)

var schedulesHorizonCmd = &cobra.Command{
	Use:   "horizon <schedule-id>",
	Short: "Update the planning horizon of a FORECAST or RELEASED schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{
			"horizonStart": horizonStart,
			"horizonEnd":   horizonEnd,
		}
		var view scheduleView
		if err := client.patchJSON(apiBase+"/schedules/"+args[0]+"/horizon", body, &view); err != nil {
			return fmt.Errorf("failed to update horizon: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(view)
		}
		fmt.Printf("Schedule %s horizon now %s to %s (version %d)\n",
			view.ID, shortTime(view.HorizonStart), shortTime(view.HorizonEnd), view.Version)
		return nil
	},
}

func printEntryTable(entries []entryView) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.Itoa(e.SequencePosition),
			e.ID,
			e.OperationRef,
			e.PartRef,
			strconv.FormatFloat(e.Quantity, 'f', -1, 64),
			strconv.Itoa(e.Priority),
			shortTime(e.DueDate),
			e.State,
		})
	}
	printTable([]string{"pos", "id", "operation", "part", "qty", "priority", "due", "state"}, rows)
}

func init() {
	schedulesListCmd.Flags().StringVar(&listSite, "site", "", "Filter by site id")
	schedulesListCmd.Flags().StringVar(&listState, "state", "", "Filter by schedule state")
	schedulesListCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Page size")
	schedulesListCmd.Flags().StringVar(&listPageToken, "page-token", "", "Page token from a previous list")

	schedulesCreateCmd.Flags().StringVar(&createSite, "site", "", "Site id (required)")
	schedulesCreateCmd.Flags().StringVar(&createStart, "start", "", "Horizon start, RFC3339 (required)")
	schedulesCreateCmd.Flags().StringVar(&createEnd, "end", "", "Horizon end, RFC3339 (required)")
	_ = schedulesCreateCmd.MarkFlagRequired("site")
	_ = schedulesCreateCmd.MarkFlagRequired("start")
	_ = schedulesCreateCmd.MarkFlagRequired("end")

	schedulesHorizonCmd.Flags().StringVar(&horizonStart, "start", "", "Horizon start, RFC3339 (required)")
	schedulesHorizonCmd.Flags().StringVar(&horizonEnd, "end", "", "Horizon end, RFC3339 (required)")
	_ = schedulesHorizonCmd.MarkFlagRequired("start")
	_ = schedulesHorizonCmd.MarkFlagRequired("end")

	schedulesCmd.AddCommand(schedulesListCmd)
	schedulesCmd.AddCommand(schedulesGetCmd)
	schedulesCmd.AddCommand(schedulesCreateCmd)
	schedulesCmd.AddCommand(schedulesHorizonCmd)
}
