package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"repo-metadata-sync/internal/api"
	"repo-metadata-sync/internal/syncer"
)

func newSeedCmd(c *cli) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store one record per repository of GITHUB_USER_OR_ORG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateSeed(); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.syncer.SeedRepositories(cmd.Context(), table)
			if err != nil {
				return fmt.Errorf("seed repositories: %w", err)
			}

			cmd.Printf("Fetched %d repositories for %s\n", report.Listed, c.cfg.Account)
			cmd.Printf("Stored %d GitHub repositories to table %s\n", report.Stored, report.Table)
			if len(report.Failed) > 0 {
				cmd.Printf("Failed to store %d repositories: %s\n", len(report.Failed), strings.Join(report.Failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "destination table (defaults to REPO_METADATA_TABLE)")
	return cmd
}

func newScanCmd(c *cli) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Record changed files of every repository visible to GITHUB_TOKEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateScan(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("every") {
				every = c.cfg.ScanInterval
			}
			if every < 0 {
				return errors.New("--every must not be negative")
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			printReport := func(report *syncer.ScanReport) {
				cmd.Printf("Scanned %d repositories: %d succeeded, %d failed, %d records written\n",
					report.Repositories, report.Succeeded, report.Failed, report.RecordsWritten)
				if len(report.FailedRepos) > 0 {
					cmd.Printf("Failed repositories: %s\n", strings.Join(report.FailedRepos, ", "))
				}
			}

			if every > 0 {
				return a.syncer.Start(cmd.Context(), every, printReport)
			}

			report, err := a.syncer.ScanFileChanges(cmd.Context())
			if err != nil {
				return fmt.Errorf("scan file changes: %w", err)
			}
			printReport(report)
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the scan at this interval (defaults to SCAN_INTERVAL, 0 runs once)")
	return cmd
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger API on HTTP_ADDR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateSeed(); err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ln, err := net.Listen("tcp", c.cfg.HTTPAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", c.cfg.HTTPAddr, err)
			}

			h := api.NewHandler(ctx, a.syncer, a.store, c.logger)
			srv := &http.Server{
				Handler:           h.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				c.logger.Info("HTTP server listening", "addr", ln.Addr().String())
				errCh <- srv.Serve(ln)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			c.logger.Info("Shutdown signal received. Stopping HTTP server.")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			h.Wait()
			return nil
		},
	}
}
