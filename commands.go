package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"TopicToVideo-server/models"
	"TopicToVideo-server/service"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "t2v",
		Short:         "Topic to short-form video pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $T2V_CONFIG or config/config.yaml)")

	withApp := func(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configFlag)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd.Context(), a, cmd, args)
		}
	}

	rootCmd.AddCommand(newServeCommand(withApp))
	rootCmd.AddCommand(newAPICommand(withApp))
	rootCmd.AddCommand(newWorkerCommand(withApp))
	rootCmd.AddCommand(newProjectsCommand(withApp))
	rootCmd.AddCommand(newQueueCommand(withApp))
	return rootCmd
}

type appRunner func(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newServeCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the worker pool in one process",
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			ctx, stop := signalContext(ctx)
			defer stop()
			// build shared clients before the goroutines race to do it
			if _, err := a.projectService(ctx); err != nil {
				return err
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.runAPI(gctx) })
			g.Go(func() error { return a.runWorker(gctx) })
			return g.Wait()
		}),
	}
}

func newAPICommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API only",
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			ctx, stop := signalContext(ctx)
			defer stop()
			return a.runAPI(ctx)
		}),
	}
}

func newWorkerCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the worker pool only",
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			ctx, stop := signalContext(ctx)
			defer stop()
			return a.runWorker(ctx)
		}),
	}
}

func newProjectsCommand(withApp appRunner) *cobra.Command {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "Submit and manage projects",
	}

	var params models.CreateParams
	var format string
	submitCmd := &cobra.Command{
		Use:   "submit <topic>",
		Short: "Create a project and queue its video",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			svc, err := a.projectService(ctx)
			if err != nil {
				return err
			}
			params.Topic = strings.Join(args, " ")
			params.Format = models.Format(format)
			p, err := svc.Submit(ctx, params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s queued\n", p.ID)
			return nil
		}),
	}
	submitCmd.Flags().StringVar(&params.Style, "style", "", "Visual style (default cinematic)")
	submitCmd.Flags().StringVar(&params.Language, "language", "", "Narration language code (default en)")
	submitCmd.Flags().StringVar(&format, "format", "", "Output format: vertical, horizontal, square or portrait")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			store, err := a.projectStore()
			if err != nil {
				return err
			}
			projects, err := store.List(ctx)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Topic", "Format", "Status", "Created"},
				projectRows(projects),
				nil,
			))
			return nil
		}),
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			store, err := a.projectStore()
			if err != nil {
				return err
			}
			p, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, projectDetailRows(p), nil))
			if p.ErrorMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", p.ErrorMessage)
			}
			return nil
		}),
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Print the project as JSON")

	retryCmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-queue a failed project, keeping finished stages",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			svc, err := a.projectService(ctx)
			if err != nil {
				return err
			}
			if _, err := svc.Retry(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s re-queued\n", args[0])
			return nil
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			svc, err := a.projectService(ctx)
			if err != nil {
				return err
			}
			if err := svc.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s deleted\n", args[0])
			return nil
		}),
	}

	projectsCmd.AddCommand(submitCmd, listCmd, showCmd, retryCmd, deleteCmd)
	return projectsCmd
}

func newQueueCommand(withApp appRunner) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by state",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			info, err := a.jobQueue().Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"State", "Count"},
				queueStatsRows(info),
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		}),
	}

	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge-failed",
		Short: "Delete failed jobs older than the retention window",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			retention := a.cfg.Worker.FailureRetention
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}
			n, err := service.NewJanitor(a.jobQueue(), retention, 0, a.log).Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d failed jobs\n", n)
			return nil
		}),
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Override the configured failure retention")

	queueCmd.AddCommand(statsCmd, purgeCmd)
	return queueCmd
}

func projectRows(projects []models.Project) [][]string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{
			p.ID,
			truncate(p.Topic, 40),
			string(p.Format),
			string(p.Status),
			p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func projectDetailRows(p *models.Project) [][]string {
	return [][]string{
		{"ID", p.ID},
		{"Topic", p.Topic},
		{"Style", p.Style},
		{"Language", p.Language},
		{"Format", string(p.Format)},
		{"Status", string(p.Status)},
		{"Scenes", strconv.Itoa(len(p.Script.Scenes))},
		{"Audio", p.AudioURL},
		{"Images", strconv.Itoa(len(p.ImageURLs))},
		{"Video", p.VideoURL},
	}
}

func queueStatsRows(info *asynq.QueueInfo) [][]string {
	counts := []struct {
		name string
		n    int
	}{
		{"pending", info.Pending},
		{"active", info.Active},
		{"scheduled", info.Scheduled},
		{"retry", info.Retry},
		{"archived", info.Archived},
		{"completed", info.Completed},
	}
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.name, strconv.Itoa(c.n)})
	}
	return rows
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
