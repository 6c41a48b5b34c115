package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/docjob"
)

// newHarvestCmd creates the 'harvest' subcommand: one acquisition run,
// in-process, result printed as JSON.
func newHarvestCmd() *cobra.Command {
	var (
		wishlist   []string
		maxPages   int
		singlePage bool
		output     string
		tenant     string
	)

	cmd := &cobra.Command{
		Use:   "harvest <url>",
		Short: "Runs one documentation acquisition and prints the result",
		Long: `Crawls the given documentation site, extracts its API definition,
generates actions, and writes the completed job as JSON. Uses in-memory
storage only; nothing persists after the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if maxPages > 0 {
				cfg.Triage.MaxPages = maxPages
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipe, err := buildPipeline(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer pipe.Close()

			req := docjob.CreateRequest{
				TenantID: tenant,
				URL:      args[0],
				Wishlist: wishlist,
				Force:    true,
			}
			if singlePage {
				req.URLs = []string{args[0]}
			}

			resp, err := pipe.service.CreateJob(ctx, req)
			if err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			if err := pipe.service.Run(ctx, tenant, resp.Job.ID); err != nil {
				logger.Warn("harvest run finished with error", zap.Error(err))
			}

			job, err := pipe.service.GetJob(ctx, tenant, resp.Job.ID)
			if err != nil {
				return fmt.Errorf("load finished job: %w", err)
			}
			if err := writeResult(output, job); err != nil {
				return err
			}
			if job.Status == docjob.StatusFailed {
				msg := "unknown"
				if job.Error != nil {
					msg = fmt.Sprintf("%s: %s", job.Error.Code, job.Error.Message)
				}
				return fmt.Errorf("harvest failed: %s", msg)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&wishlist, "wishlist", nil, "operations to prioritize, e.g. 'list users'")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "override the page budget")
	cmd.Flags().BoolVar(&singlePage, "single-page", false, "fetch only the given URL, skipping site mapping")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to a file instead of stdout")
	cmd.Flags().StringVar(&tenant, "tenant", "local", "tenant id recorded on the job")

	return cmd
}

func writeResult(path string, job *docjob.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
