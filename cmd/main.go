package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"famsync/internal/config"
	"famsync/internal/google"
	"famsync/internal/mapping"
	"famsync/internal/models"
	"famsync/internal/ratelimit"
	"famsync/internal/retry"
	"famsync/internal/runlock"
	"famsync/internal/sources"
	"famsync/internal/workflow"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "famsync",
		Usage: "Reconcile household events into the family's Google calendars.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultConfigFile, EnvVars: []string{"FAMSYNC_CONFIG_FILE"}, Usage: "YAML configuration file."},
			&cli.BoolFlag{Name: "strict", EnvVars: []string{"FAMSYNC_SYNC_STRICT"}, Usage: "Exit non-zero when any item failed."},
		},
		Commands: []*cli.Command{
			authCommand(),
			migrateCommand(),
			cleanupCommand(),
			dedupCommand(),
			diagnoseCommand(),
			ignoreCommand(),
			forgetCommand(),
			addCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

var dryRunFlag = &cli.BoolFlag{Name: "dry-run", EnvVars: []string{"FAMSYNC_DRY_RUN"}, Usage: "Log what would change without making changes."}

// env is the state shared by every command after startup.
type env struct {
	logger *slog.Logger
	cfg    *config.Config
	strict bool
}

func setup(c *cli.Context) (*env, error) {
	logger := setupLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, c.String("config"))
	if err != nil {
		return nil, err
	}
	return &env{logger: logger, cfg: cfg, strict: c.Bool("strict") || cfg.Sync.Strict}, nil
}

// runner validates the configuration and wires the Google client, sources
// and stores into a workflow runner.
func (e *env) runner(ctx context.Context, dryRun bool) (*workflow.Runner, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	gClient, err := google.NewClient(ctx, e.logger, e.cfg.Google.Credentials, e.cfg.Google.Token, google.Options{
		Limiter:  ratelimit.New(e.cfg.Sync.CallsPerSecond),
		Retry:    retry.DefaultPolicy(e.logger, e.cfg.Sync.RetryAttempts, google.IsTransient),
		Location: e.cfg.Location(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	store := mapping.Open(e.logger, e.cfg.MappingPath())
	ignore := mapping.OpenIgnoreList(e.logger, e.cfg.IgnorePath())
	loader := sources.NewLoader(e.logger, e.cfg)

	return workflow.NewRunner(e.logger, e.cfg, gClient, loader, store, ignore, workflow.Options{DryRun: dryRun})
}

// locked runs fn while holding the storage run lock.
func (e *env) locked(fn func() error) error {
	if err := os.MkdirAll(e.cfg.Storage.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	lock, err := runlock.Acquire(e.cfg.LockPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.logger.Error("Failed to release run lock", "file", e.cfg.LockPath(), "error", err)
		}
	}()
	return fn()
}

// finish prints the report and turns failures into an error in strict mode.
func (e *env) finish(report *workflow.Report) error {
	report.Print(os.Stdout)
	if e.strict && report.Failed() {
		return fmt.Errorf("%s finished with %d failures", report.Workflow, report.Errors)
	}
	return nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			e.logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(e.cfg.Google.Credentials, e.cfg.Google.ClientID, e.cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}
			if err := google.SaveToken(e.cfg.Google.Token, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			e.logger.Info("Successfully authenticated and saved token.", "file", e.cfg.Google.Token)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Push every eligible local event that has no remote counterpart yet.",
		Flags: []cli.Flag{dryRunFlag},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			if c.Bool("dry-run") {
				e.logger.Info("Performing a dry run. No changes will be made.")
			}
			return e.locked(func() error {
				r, err := e.runner(ctx, c.Bool("dry-run"))
				if err != nil {
					return err
				}
				return e.finish(r.Migrate(ctx))
			})
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove remote events whose local event is gone, then deduplicate every calendar.",
		Flags: []cli.Flag{
			dryRunFlag,
			&cli.StringFlag{Name: "schedule", Usage: "Run on a cron schedule (e.g. \"0 3 * * *\") until interrupted."},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			run := func() error {
				return e.locked(func() error {
					r, err := e.runner(ctx, c.Bool("dry-run"))
					if err != nil {
						return err
					}
					return e.finish(r.Cleanup(ctx))
				})
			}

			schedule := c.String("schedule")
			if schedule == "" {
				return run()
			}
			if err := e.cfg.Validate(); err != nil {
				return err
			}

			scheduler := cron.New(cron.WithLocation(e.cfg.Location()))
			if _, err := scheduler.AddFunc(schedule, func() {
				if err := run(); err != nil {
					e.logger.Error("Scheduled cleanup failed", "error", err)
				}
			}); err != nil {
				return fmt.Errorf("invalid schedule '%s': %w", schedule, err)
			}

			e.logger.Info("Starting cleanup scheduler.", "schedule", schedule, "timezone", e.cfg.Sync.Timezone)
			scheduler.Start()
			<-ctx.Done()
			e.logger.Info("Stopping cleanup scheduler.")
			<-scheduler.Stop().Done()
			return nil
		},
	}
}

func dedupCommand() *cli.Command {
	return &cli.Command{
		Name:  "dedup",
		Usage: "Delete duplicate events from one or all calendars.",
		Flags: []cli.Flag{
			dryRunFlag,
			&cli.StringFlag{Name: "calendar", Value: "all", Usage: "family, a, b or all"},
		},
		Action: func(c *cli.Context) error {
			targets, err := parseTargets(c.String("calendar"))
			if err != nil {
				return err
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			return e.locked(func() error {
				r, err := e.runner(ctx, c.Bool("dry-run"))
				if err != nil {
					return err
				}
				return e.finish(r.Dedup(ctx, targets))
			})
		},
	}
}

func parseTargets(s string) ([]models.Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return models.Targets, nil
	case "family":
		return []models.Target{models.TargetFamily}, nil
	case "a", "persona":
		return []models.Target{models.TargetPersonA}, nil
	case "b", "personb":
		return []models.Target{models.TargetPersonB}, nil
	}
	return nil, fmt.Errorf("unknown calendar '%s', want family, a, b or all", s)
}

func diagnoseCommand() *cli.Command {
	return &cli.Command{
		Name:  "diagnose",
		Usage: "Report mapping, duplicate and pending-push state without changing anything.",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			r, err := e.runner(ctx, true)
			if err != nil {
				return err
			}
			return e.finish(r.Diagnose(ctx))
		},
	}
}

func ignoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "ignore",
		Usage:     "Exclude a local event uid from reconciliation.",
		ArgsUsage: "<uid>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remove", Usage: "Stop ignoring the uid."},
			&cli.BoolFlag{Name: "list", Usage: "List ignored uids."},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}

			if c.Bool("list") {
				for _, uid := range mapping.OpenIgnoreList(e.logger, e.cfg.IgnorePath()).All() {
					fmt.Println(uid)
				}
				return nil
			}

			uid := strings.TrimSpace(c.Args().First())
			if uid == "" {
				return errors.New("a uid is required")
			}
			return e.locked(func() error {
				list := mapping.OpenIgnoreList(e.logger, e.cfg.IgnorePath())
				if c.Bool("remove") {
					if err := list.Remove(uid); err != nil {
						return fmt.Errorf("failed to update ignore list: %w", err)
					}
					e.logger.Info("No longer ignoring event.", "uid", uid)
					return nil
				}
				if err := list.Add(uid); err != nil {
					return fmt.Errorf("failed to update ignore list: %w", err)
				}
				e.logger.Info("Ignoring event.", "uid", uid)
				return nil
			})
		},
	}
}

func forgetCommand() *cli.Command {
	return &cli.Command{
		Name:      "forget",
		Usage:     "Delete the remote counterpart of a local uid and drop its mapping.",
		ArgsUsage: "<uid>",
		Flags:     []cli.Flag{dryRunFlag},
		Action: func(c *cli.Context) error {
			uid := strings.TrimSpace(c.Args().First())
			if uid == "" {
				return errors.New("a uid is required")
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			return e.locked(func() error {
				r, err := e.runner(ctx, c.Bool("dry-run"))
				if err != nil {
					return err
				}
				return e.finish(r.Forget(ctx, uid))
			})
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Create a local event that the next migrate run will push.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "summary", Required: true},
			&cli.StringFlag{Name: "start", Required: true, Usage: "2006-01-02 or 2006-01-02T15:04 in the configured zone"},
			&cli.DurationFlag{Name: "duration", Value: time.Hour},
			&cli.StringSliceFlag{Name: "assignee", Usage: "Household member; repeatable."},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}

			loc := e.cfg.Location()
			allDay := false
			start, err := time.ParseInLocation("2006-01-02T15:04", c.String("start"), loc)
			if err != nil {
				start, err = time.ParseInLocation("2006-01-02", c.String("start"), loc)
				if err != nil {
					return fmt.Errorf("invalid start '%s': %w", c.String("start"), err)
				}
				allDay = true
			}
			end := start.Add(c.Duration("duration"))
			if allDay {
				end = start.AddDate(0, 0, 1)
			}

			ev := sources.NewLocalEvent(c.String("summary"), start, end, c.StringSlice("assignee"))
			ev.AllDay = allDay

			return e.locked(func() error {
				events, err := sources.LoadLocalEvents(e.cfg.LocalEventsPath())
				if err != nil {
					return err
				}
				if err := sources.SaveLocalEvents(e.cfg.LocalEventsPath(), append(events, ev)); err != nil {
					return err
				}
				e.logger.Info("Created local event.", "uid", ev.UID, "summary", ev.Summary, "start", ev.Start)
				return nil
			})
		},
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
