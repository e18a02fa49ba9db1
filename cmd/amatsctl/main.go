package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/utv-amats/amats/cmd/amatsctl/cli"
	"github.com/utv-amats/amats/internal/app"
	"github.com/utv-amats/amats/internal/platform/cache"
	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/platform/migrations"
)

// exitCode carries a command's process status through cobra.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	default:
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
}

// env is the state shared by every subcommand once config is loaded.
type env struct {
	stdout, stderr io.Writer
	jsonOut        bool
	cfg            *app.Config
	logger         *slog.Logger
}

func (e *env) output() cli.Output {
	return cli.Output{JSONOutput: e.jsonOut, Stdout: e.stdout, Stderr: e.stderr}
}

// withServices connects to PostgreSQL and Redis for the duration of fn.
func (e *env) withServices(ctx context.Context, fn func(*app.Services) int) error {
	pool, err := db.New(ctx, e.cfg.PGDSN, e.cfg.PGMaxConns)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "connect postgres: %v\n", err)
		return exitCode(1)
	}
	defer pool.Close()
	redisClient, err := cache.New(ctx, e.cfg.RedisAddr)
	if err != nil {
		e.logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() { _ = redisClient.Close() }()
	}
	if code := fn(app.NewServices(e.cfg, pool, redisClient, nil, e.logger)); code != 0 {
		return exitCode(code)
	}
	return nil
}

func (e *env) fail(err error) error {
	_, _ = fmt.Fprintf(e.stderr, "%v\n", err)
	return exitCode(1)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	e := &env{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "amatsctl",
		Short:         "Operate the AMATS asset tracker",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
				return exitCode(1)
			}
			e.cfg, e.logger = cfg, app.NewLogger(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return exitCode(2)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&e.jsonOut, "json", false, "emit JSON")
	root.AddCommand(
		migrateCommand(e),
		createAdminCommand(e),
		scanCommand(e),
		overdueCommand(e),
		reportCommand(e),
		jobsCommand(e),
	)
	return root
}

func migrateCommand(e *env) *cobra.Command {
	printVersion := func() error {
		version, dirty, err := migrations.Version(e.cfg.PGDSN)
		if err != nil {
			return e.fail(err)
		}
		_, _ = fmt.Fprintf(e.stdout, "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	}
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back schema migrations"}
	up := &cobra.Command{
		Use:  "up",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrations.Up(e.cfg.PGDSN); err != nil {
				return e.fail(err)
			}
			return printVersion()
		},
	}
	var steps int
	down := &cobra.Command{
		Use:  "down",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrations.Down(e.cfg.PGDSN, steps); err != nil {
				return e.fail(err)
			}
			return printVersion()
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "migrations to roll back")
	version := &cobra.Command{
		Use:  "version",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error { return printVersion() },
	}
	cmd.AddCommand(up, down, version)
	return cmd
}

func createAdminCommand(e *env) *cobra.Command {
	var opts cli.AdminOptions
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(cmd.Context(), func(s *app.Services) int {
				opts.Output = e.output()
				return cli.CreateAdminCommand(cmd.Context(), s.Users, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "login name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.FullName, "name", "", "full name")
	return cmd
}

func scanCommand(e *env) *cobra.Command {
	var opts cli.ScanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one presence sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(cmd.Context(), func(s *app.Services) int {
				opts.Output = e.output()
				return cli.ScanCommand(cmd.Context(), s.Presence, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Subnet, "subnet", "", "CIDR to sweep (default SCAN_SUBNET)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "sweep timeout (default SCAN_TIMEOUT)")
	return cmd
}

func overdueCommand(e *env) *cobra.Command {
	var opts cli.OverdueOptions
	cmd := &cobra.Command{
		Use:   "check-overdue",
		Short: "List overdue assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(cmd.Context(), func(s *app.Services) int {
				opts.Output = e.output()
				return cli.OverdueCommand(cmd.Context(), s.Assignments, opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.CriticalDays, "days", 30, "days past due considered critical")
	return cmd
}

func reportCommand(e *env) *cobra.Command {
	var opts cli.ReportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a CSV report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(cmd.Context(), func(s *app.Services) int {
				opts.Output = e.output()
				return cli.ReportCommand(cmd.Context(), s.Reports, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "type", "inventory", "inventory, assignments or overdue")
	cmd.Flags().StringVar(&opts.Path, "output", "", "destination file")
	return cmd
}

func jobsCommand(e *env) *cobra.Command {
	withJobs := func(ctx context.Context, fn func(context.Context, *cli.JobsCLI) error) error {
		jobsCLI, err := cli.NewJobsCLI(e.cfg.RedisAddr)
		if err != nil {
			return e.fail(err)
		}
		defer func() { _ = jobsCLI.Close() }()
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := fn(ctx, jobsCLI); err != nil {
			return e.fail(err)
		}
		return nil
	}
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect or trigger background jobs"}
	trigger := &cobra.Command{
		Use:  "trigger <task>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(ctx context.Context, j *cli.JobsCLI) error {
				info, err := j.Trigger(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(e.stdout, "enqueued %s as %s\n", info.Type, info.ID)
				return nil
			})
		},
	}
	stats := &cobra.Command{
		Use:  "stats",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(ctx context.Context, j *cli.JobsCLI) error {
				stats, err := j.InspectQueue(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(e.stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				return nil
			})
		},
	}
	cmd.AddCommand(trigger, stats)
	return cmd
}
