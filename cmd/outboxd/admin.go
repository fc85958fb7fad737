package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/outbox/engine"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			s.logger.Info("schema up to date", slog.String("store", s.cfg.Store))
			return nil
		},
	}
}

func newStatsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), g, func(ctx context.Context, q *engine.Queue) error {
				stats, err := q.GetStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newJobsCmd(g *globals) *cobra.Command {
	var (
		status        string
		correlationID string
		limit         int
		offset        int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), g, func(ctx context.Context, q *engine.Queue) error {
				jobs, err := q.QueryJobs(ctx, job.ListOpts{
					Status:        job.Status(status),
					CorrelationID: correlationID,
					Limit:         limit,
					Offset:        offset,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "only jobs with this correlation id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "jobs to skip")
	return cmd
}

func newRetryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "retry JOB_ID",
		Short: "Requeue a dead job with its attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job ID %q: %w", args[0], err)
			}
			return withQueue(cmd.Context(), g, func(ctx context.Context, q *engine.Queue) error {
				j, err := q.RetryJob(ctx, jobID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), j)
			})
		},
	}
}

func newPurgeDeadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-dead",
		Short: "Delete every dead job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), g, func(ctx context.Context, q *engine.Queue) error {
				n, err := q.PurgeDead(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d dead jobs\n", n)
				return err
			})
		},
	}
}

// withQueue opens the store and runs fn against a queue that is never
// started, so nothing is dispatched from the command line.
func withQueue(ctx context.Context, g *globals, fn func(context.Context, *engine.Queue) error) error {
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	q, err := engine.New(s.store, engine.WithConfig(s.cfg), engine.WithLogger(s.logger))
	if err != nil {
		return err
	}
	return fn(ctx, q)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
