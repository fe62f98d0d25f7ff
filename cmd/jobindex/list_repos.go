package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const repoTimeFormat = "2006-01-02T15:04:05Z"

func newListReposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-repos",
		Short: "List the indexed repositories",
		Long: `List every indexed repository with the time it was last scraped and the
provider it was scraped from. The most recently scraped repositories come first.`,
		RunE: listReposRun,
	}
}

func listReposRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	repos, err := globalStore.ListRepos(context.Background())
	if err != nil {
		return fmt.Errorf("listing repos: %w", err)
	}

	if len(repos) == 0 {
		fmt.Println("No repositories indexed.")
		return nil
	}

	writeRepoTable(os.Stdout, repos)
	return nil
}

// writeRepoTable renders repos sorted by last scrape, newest first. Repos
// scraped at the same time are ordered by name.
func writeRepoTable(w io.Writer, repos []store.GitRepo) {
	sort.SliceStable(repos, func(i, j int) bool {
		return repos[i].RepoName < repos[j].RepoName
	})
	sort.SliceStable(repos, func(i, j int) bool {
		return repos[i].ScrapeTime.After(repos[j].ScrapeTime)
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Repository", "Last scraped at", "Provider"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, repo := range repos {
		table.Append([]string{
			repo.RepoName,
			repo.ScrapeTime.UTC().Format(repoTimeFormat),
			repo.Provider,
		})
	}
	table.Render()
}
