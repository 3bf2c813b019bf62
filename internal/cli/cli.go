// Package cli implements jobsctl, the operator tool for migrations, job
// inspection and manual dispatch.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/bootstrap"
	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/job"
	"github.com/joshu-sajeev/profilejobs/internal/pool"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/spf13/cobra"
)

// Backend is what the commands act on. Each field is optional; a command
// whose dependency is nil fails with an error naming it.
type Backend struct {
	Records          job.RecordReaderInterface
	Dispatcher       job.DispatcherInterface
	Migrate          func(ctx context.Context) error
	MigrationVersion func(ctx context.Context) (int64, error)
	EnsureBucket     func(ctx context.Context) error
	RecoverStuck     func(ctx context.Context, queues []string) (pool.Recovery, error)
	Close            func() error
}

// Opener builds the Backend lazily so --help never touches the network.
type Opener func(ctx context.Context) (*Backend, error)

type rootOptions struct {
	open    Opener
	timeout time.Duration
}

// BuildCLI returns the jobsctl root command.
func BuildCLI(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}

	rootCmd := &cobra.Command{
		Use:           "jobsctl",
		Short:         "Operate the profile jobs service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "deadline for the whole command")

	rootCmd.AddCommand(
		buildMigrateCommand(opts),
		buildJobsCommand(opts),
		buildDispatchCommand(opts),
		buildStorageCommand(opts),
		buildRecoverCommand(opts),
	)
	return rootCmd
}

// withBackend opens the backend under the command deadline and closes it
// after fn returns.
func (o *rootOptions) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	b, err := o.open(ctx)
	if err != nil {
		return err
	}
	if b.Close != nil {
		defer b.Close()
	}
	return fn(ctx, b)
}

func buildMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.Migrate == nil || b.MigrationVersion == nil {
					return fmt.Errorf("migrations are not available")
				}
				if err := b.Migrate(ctx); err != nil {
					return err
				}
				v, err := b.MigrationVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "database at version %d\n", v)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.MigrationVersion == nil {
					return fmt.Errorf("migrations are not available")
				}
				v, err := b.MigrationVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", v)
				return nil
			})
		},
	})
	return cmd
}

func buildJobsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect tracked job records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <job-id>",
		Short: "Print one job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.Records == nil {
					return fmt.Errorf("job records are not available")
				}
				rec, err := b.Records.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job.ToRecordResponseDTO(rec))
			})
		},
	})

	var status, kind string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List job records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := tracking.Filter{Status: config.JobStatus(status), Kind: kind, Limit: limit}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.Records == nil {
					return fmt.Errorf("job records are not available")
				}
				recs, err := b.Records.List(ctx, filter)
				if err != nil {
					return err
				}
				out := make([]dto.JobRecordResponseDTO, 0, len(recs))
				for i := range recs {
					out = append(out, job.ToRecordResponseDTO(&recs[i]))
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (PENDING, STARTED, SUCCESS, FAILURE)")
	list.Flags().StringVar(&kind, "kind", "", "filter by job kind")
	list.Flags().IntVar(&limit, "limit", 20, "maximum records to print")
	cmd.AddCommand(list)

	return cmd
}

func buildDispatchCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a job by hand",
	}

	thumb := &cobra.Command{
		Use:   "thumbnail <profile-id>",
		Short: "Regenerate the thumbnail for one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || profileID == 0 {
				return fmt.Errorf("invalid profile id %q", args[0])
			}
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.Dispatcher == nil {
					return fmt.Errorf("dispatcher is not available")
				}
				kwargs := map[string]any{"profile_id": uint(profileID)}
				id, err := b.Dispatcher.Dispatch(ctx, config.JobKindThumbnail, nil, kwargs)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.AddCommand(thumb)

	return cmd
}

func buildStorageCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage the avatar bucket",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the avatar bucket if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.EnsureBucket == nil {
					return fmt.Errorf("object storage is not available")
				}
				if err := b.EnsureBucket(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "bucket ready")
				return nil
			})
		},
	})
	return cmd
}

func buildRecoverCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Release messages whose worker lease expired and fail those out of attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b *Backend) error {
				if b.RecoverStuck == nil {
					return fmt.Errorf("broker does not support recovery")
				}
				res, err := b.RecoverStuck(ctx, config.AllowedQueues)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d message(s), failed %d\n", res.Released, res.Failed)
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// OpenFromEnv builds a Backend from the same environment the api and
// worker binaries read.
func OpenFromEnv(ctx context.Context) (*Backend, error) {
	app, err := bootstrap.New(ctx)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		Records:    app.Recorder,
		Dispatcher: app.Dispatcher,
		Migrate: func(context.Context) error {
			return postgres.RunMigrations(app.DB)
		},
		MigrationVersion: func(context.Context) (int64, error) {
			return postgres.MigrationVersion(app.DB)
		},
		EnsureBucket: app.Blobs.EnsureBucket,
		Close:        app.Close,
	}
	if r, ok := app.Broker.(pool.StuckRecoverer); ok {
		b.RecoverStuck = func(ctx context.Context, queues []string) (pool.Recovery, error) {
			return pool.Recover(ctx, r, app.Recorder, queues, app.Logger)
		}
	}
	return b, nil
}
