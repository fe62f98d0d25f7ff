package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/engine"
	"github.com/BadgerOps/jobindex/internal/transport"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	scrapeFull  bool
	scrapeRepos []string
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape repositories and update the index",
		Long: `Scrape Zuul jobs and Ansible roles into the index.

With --full every repository of the tenant configuration is scraped once.
With --repo only the named repositories are scraped. Without either flag the
scraper keeps running: it waits for webhook events on the configured transport
and periodically re-scrapes repositories that were not updated for longer than
the force scrape interval.`,
		Example: `  jobindex scrape --full
  jobindex scrape --repo orga/repo1 --repo orga/repo2
  jobindex scrape`,
		RunE: scrapeRun,
	}

	cmd.Flags().BoolVar(&scrapeFull, "full", false, "scrape every repository of the tenant configuration")
	cmd.Flags().StringSliceVar(&scrapeRepos, "repo", nil, "repository to scrape (repeatable)")

	return cmd
}

func scrapeRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initializeScraper(ctx); err != nil {
		return err
	}

	var (
		report *engine.Report
		err    error
	)
	switch {
	case len(scrapeRepos) > 0:
		logger.Info("scraping repositories", "repos", scrapeRepos)
		report, err = globalReconciler.ScrapeRepoList(ctx, scrapeRepos, false)
	case scrapeFull:
		logger.Info("scraping all repositories")
		report, err = globalReconciler.ScrapeFull(ctx, nil)
	default:
		return listen(ctx)
	}

	printReport(os.Stdout, report)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("scrape completed with %d failures", len(report.Failed))
	}
	return nil
}

// listen runs the event loop until ctx is cancelled
func listen(ctx context.Context) error {
	if err := globalReconciler.InitRepoCache(ctx); err != nil {
		return err
	}

	sub, err := newSubscriber(ctx, globalCfg)
	if err != nil {
		return err
	}
	return globalReconciler.Run(ctx, sub, globalCfg.Scraper.PollTimeout)
}

// newSubscriber connects to the configured event transport
func newSubscriber(ctx context.Context, cfg *config.Config) (transport.Subscriber, error) {
	switch cfg.Transport.Type {
	case "", "none":
		logger.Warn("No transport configured, only periodic scrapes will run")
		return transport.NewNone(logger), nil
	case "websocket":
		if cfg.Transport.URL == "" {
			return nil, config.Errorf("transport type 'websocket' requires a transport url")
		}
		return transport.Dial(ctx, cfg.Transport.URL, logger)
	case "channel":
		return nil, config.Errorf("transport type 'channel' is only available with 'serve --with-scraper'")
	default:
		return nil, config.Errorf("unsupported transport type '%s'", cfg.Transport.Type)
	}
}

// printReport writes a summary of a scrape run
func printReport(w io.Writer, report *engine.Report) {
	if report == nil {
		return
	}

	title := color.New(color.Bold).SprintFunc()
	fmt.Fprintln(w)
	fmt.Fprintln(w, title("=== SCRAPE SUMMARY ==="))
	if report.DeleteOnly {
		fmt.Fprintln(w, color.YellowString("Delete-only run"))
	}
	fmt.Fprintf(w, "Repos:          %d\n", len(report.Repos))
	fmt.Fprintf(w, "Jobs saved:     %s\n", color.GreenString("%d", report.JobsSaved))
	fmt.Fprintf(w, "Roles saved:    %s\n", color.GreenString("%d", report.RolesSaved))
	fmt.Fprintf(w, "Jobs deleted:   %d\n", report.JobsDeleted)
	fmt.Fprintf(w, "Roles deleted:  %d\n", report.RolesDeleted)
	fmt.Fprintf(w, "Repos deleted:  %d\n", report.ReposDeleted)

	if len(report.Failed) == 0 {
		fmt.Fprintf(w, "Failed:         %d\n", 0)
		return
	}
	fmt.Fprintf(w, "Failed:         %s\n", color.RedString("%d", len(report.Failed)))
	for _, repo := range report.Failed {
		fmt.Fprintf(w, "  - %s\n", repo)
	}
}
