package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusLimit int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display recent scrape runs",
		Long: `Display the most recent scrape runs with the number of repositories,
saved and deleted blocks and the outcome of each run.`,
		Example: `  jobindex status
  jobindex status --limit 50`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	runs, err := globalStore.ListScrapeRuns(context.Background(), statusLimit)
	if err != nil {
		return fmt.Errorf("listing scrape runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No scrape runs recorded.")
		return nil
	}

	writeRunTable(os.Stdout, runs)
	return nil
}

func writeRunTable(w io.Writer, runs []store.ScrapeRun) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Started", "Duration", "Mode", "Repos", "Saved", "Deleted", "Status"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, run := range runs {
		mode := "scrape"
		if run.DeleteOnly {
			mode = "delete"
		}
		duration := "-"
		if !run.EndTime.IsZero() {
			duration = run.EndTime.Sub(run.StartTime).String()
		}
		table.Append([]string{
			strconv.FormatInt(run.ID, 10),
			run.StartTime.UTC().Format(repoTimeFormat),
			duration,
			mode,
			fmt.Sprintf("%d (%d failed)", run.Repos, run.ReposFailed),
			fmt.Sprintf("%d jobs, %d roles", run.JobsSaved, run.RolesSaved),
			fmt.Sprintf("%d jobs, %d roles, %d repos", run.JobsDeleted, run.RolesDeleted, run.ReposDeleted),
			colorStatus(run.Status),
		})
	}
	table.Render()
}

func colorStatus(status string) string {
	switch status {
	case "success":
		return color.GreenString(status)
	case "partial", "running":
		return color.YellowString(status)
	case "failed":
		return color.RedString(status)
	}
	return status
}
