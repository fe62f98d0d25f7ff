package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/server"
	"github.com/BadgerOps/jobindex/internal/transport"
	"github.com/spf13/cobra"
)

var (
	serveListen      string
	serveWithScraper bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long: `Start the HTTP server that receives GitHub webhooks and serves the index.

Verified webhook events are handed to the configured transport. With the
websocket transport, scrapers subscribe at /api/events. With --with-scraper the
scraper runs inside the server process and receives events directly.

By default, the server listens on the address configured in the config file
(default: 0.0.0.0:8080). Use --listen to override.`,
		Example: `  jobindex serve
  jobindex serve --listen 127.0.0.1:9000
  jobindex serve --with-scraper`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")
	cmd.Flags().BoolVar(&serveWithScraper, "with-scraper", false, "run the scraper in the server process")

	return cmd
}

// newPublisher creates the transport webhook events are published to
func newPublisher(cfg *config.Config) (transport.Publisher, error) {
	switch cfg.Transport.Type {
	case "", "none":
		return transport.NewNone(logger), nil
	case "websocket":
		return transport.NewHub(logger), nil
	case "channel":
		return nil, config.Errorf("transport type 'channel' requires --with-scraper")
	default:
		return nil, config.Errorf("unsupported transport type '%s'", cfg.Transport.Type)
	}
}

func serveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	listenAddr := serveListen
	if listenAddr == "" {
		listenAddr = globalCfg.Server.Listen
	}
	if globalCfg.GitHubWebhookSecret == "" {
		logger.Warn("No GitHub webhook secret configured, webhook deliveries will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pub transport.Publisher
		sub transport.Subscriber
	)
	if serveWithScraper {
		if err := initializeScraper(ctx); err != nil {
			return err
		}
		if err := globalReconciler.InitRepoCache(ctx); err != nil {
			return err
		}
		ch := transport.NewChannel(0)
		pub, sub = ch, ch
	} else {
		var err error
		if pub, err = newPublisher(globalCfg); err != nil {
			return err
		}
	}

	logger.Info("server starting", "listen", listenAddr, "with_scraper", serveWithScraper, "transport", globalCfg.Transport.Type)
	srv := server.NewServer(globalReconciler, globalStore, globalCfg, pub, logger)

	errChan := make(chan error, 2)

	go func() {
		fmt.Printf("Starting server on %s...\n", listenAddr)
		if err := srv.Start(listenAddr); err != nil {
			errChan <- err
		}
	}()

	if serveWithScraper {
		go func() {
			if err := globalReconciler.Run(ctx, sub, globalCfg.Scraper.PollTimeout); err != nil {
				errChan <- fmt.Errorf("scraper error: %w", err)
			}
		}()
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}
