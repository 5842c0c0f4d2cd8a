package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"calagent/internal/models"
	"calagent/pkg/cache"
	"calagent/pkg/config"
	"calagent/pkg/engine"
	"calagent/pkg/export"
	"calagent/pkg/gateway"
	"calagent/pkg/notify"
	"calagent/pkg/retry"
	"calagent/pkg/session"
	"calagent/pkg/watcher"
)

// Version information - can be set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:    "calagent",
		Usage:   "Manage calendar events against a remote event store.",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to configuration file"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			registerCommand(),
			whoamiCommand(),
			listCommand(),
			createCommand(),
			moveCommand(),
			editCommand(),
			deleteCommand(),
			attendeesCommand(),
			exportCommand(),
			watchCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app wires the components for one CLI invocation
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	session  *session.Store
	client   *gateway.Client
	events   *cache.Cache
	engine   *engine.Engine
	notifier *notify.Publisher
}

func newApp(c *cli.Context) (*app, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if url := os.Getenv("CALAGENT_SERVER"); url != "" {
		cfg.Server.BaseURL = url
	}

	logger := setupLogger(cfg.Logging, c.Bool("debug"))
	slog.SetDefault(logger)

	store := session.NewStore()
	if err := store.LoadFromFile(cfg.TokenFile); err != nil {
		logger.Warn("Failed to load persisted token", "error", err)
	}

	client := gateway.NewClient(
		&gateway.Config{BaseURL: cfg.Server.BaseURL, RequestTimeout: cfg.Server.RequestTimeout},
		store,
		&retry.Config{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
			Jitter:        cfg.Retry.Jitter,
		},
		logger,
	)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		session: store,
		client:  client,
		events:  cache.New(),
	}

	var notifier engine.Notifier
	if cfg.NATS.Enabled {
		publisher, err := notify.NewPublisher(&notify.Config{
			URL:            cfg.NATS.URL,
			Subject:        cfg.NATS.Subject,
			ConnectTimeout: 5 * time.Second,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  10,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.notifier = publisher
		notifier = publisher
	}

	a.engine = engine.New(
		&engine.Config{MutationTimeout: cfg.Engine.MutationTimeout},
		client, a.events, store, notifier, logger,
	)
	return a, nil
}

// close persists the session and releases the notifier. Called after every
// command so a terminated session also clears the token file.
func (a *app) close() {
	if err := a.session.SaveToFile(a.cfg.TokenFile); err != nil {
		a.logger.Warn("Failed to persist token", "error", err)
	}
	if a.notifier != nil {
		_ = a.notifier.Flush(2 * time.Second)
		a.notifier.Close()
	}
}

func run(c *cli.Context, fn func(a *app) error) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Log in and store the session token.",
		ArgsUsage: "<username>",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				username := c.Args().First()
				if username == "" {
					return fmt.Errorf("username argument is required")
				}
				password := os.Getenv("CALAGENT_PASSWORD")
				if password == "" {
					return fmt.Errorf("set CALAGENT_PASSWORD to log in")
				}

				if err := a.engine.Login(c.Context, username, password); err != nil {
					return err
				}
				fmt.Printf("Logged in as %s (%d events)\n", username, a.events.Len())
				return nil
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Destroy the current session.",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				a.engine.Logout(c.Context)
				fmt.Println("Logged out")
				return nil
			})
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Create a new user account.",
		ArgsUsage: "<username> <email>",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				username, email := c.Args().Get(0), c.Args().Get(1)
				if username == "" || email == "" {
					return fmt.Errorf("username and email arguments are required")
				}
				password := os.Getenv("CALAGENT_PASSWORD")
				if password == "" {
					return fmt.Errorf("set CALAGENT_PASSWORD to register")
				}

				available, err := a.client.CheckUsername(c.Context, username)
				if err != nil {
					return err
				}
				if !available {
					return fmt.Errorf("username %q is taken", username)
				}
				available, err = a.client.CheckEmail(c.Context, email)
				if err != nil {
					return err
				}
				if !available {
					return fmt.Errorf("email %q is already in use", email)
				}

				if err := a.client.Register(c.Context, username, email, password); err != nil {
					return err
				}
				fmt.Printf("Registered %s\n", username)
				return nil
			})
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the identity of the active session.",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				profile, err := a.engine.Profile(c.Context)
				if err != nil {
					if errors.Is(err, gateway.ErrUnauthenticated) {
						return fmt.Errorf("not logged in")
					}
					return err
				}
				fmt.Printf("%s <%s>\n", profile.Username, profile.Email)
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all visible events.",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				if err := a.engine.Refresh(c.Context); err != nil {
					return err
				}
				events := a.engine.Snapshot()
				if len(events) == 0 {
					fmt.Println("No events")
					return nil
				}
				for _, e := range events {
					fmt.Printf("%s  %s — %s  %s (owner: %s, attendees: %d)\n",
						e.ID,
						e.Start.Local().Format("2006-01-02 15:04"),
						e.End.Local().Format("15:04"),
						e.Title,
						e.OwnerUsername,
						len(e.Attendees))
				}
				return nil
			})
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a new event.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "start", Required: true, Usage: "RFC3339 or '2006-01-02 15:04'"},
			&cli.StringFlag{Name: "end", Required: true, Usage: "RFC3339 or '2006-01-02 15:04'"},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				start, err := parseTime(c.String("start"))
				if err != nil {
					return err
				}
				end, err := parseTime(c.String("end"))
				if err != nil {
					return err
				}

				created, err := a.engine.Create(c.Context, models.EventDraft{
					Title:       c.String("title"),
					Description: c.String("description"),
					Start:       start,
					End:         end,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Created %s (%s)\n", created.Title, created.ID)
				return nil
			})
		},
	}
}

func moveCommand() *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "Move or resize an event.",
		ArgsUsage: "<event-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Required: true},
			&cli.StringFlag{Name: "end", Required: true},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				id := c.Args().First()
				if id == "" {
					return fmt.Errorf("event-id argument is required")
				}
				start, err := parseTime(c.String("start"))
				if err != nil {
					return err
				}
				end, err := parseTime(c.String("end"))
				if err != nil {
					return err
				}

				if err := a.engine.Refresh(c.Context); err != nil {
					return err
				}
				if err := a.engine.Reschedule(c.Context, id, start, end); err != nil {
					return err
				}
				fmt.Printf("Moved %s\n", id)
				return nil
			})
		},
	}
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Edit an event's fields.",
		ArgsUsage: "<event-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "start", Required: true},
			&cli.StringFlag{Name: "end", Required: true},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				id := c.Args().First()
				if id == "" {
					return fmt.Errorf("event-id argument is required")
				}
				start, err := parseTime(c.String("start"))
				if err != nil {
					return err
				}
				end, err := parseTime(c.String("end"))
				if err != nil {
					return err
				}

				if err := a.engine.Refresh(c.Context); err != nil {
					return err
				}
				if err := a.engine.Edit(c.Context, id, models.EventPatch{
					Title:       c.String("title"),
					Description: c.String("description"),
					Start:       start,
					End:         end,
				}); err != nil {
					return err
				}
				fmt.Printf("Edited %s\n", id)
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an event.",
		ArgsUsage: "<event-id>",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				id := c.Args().First()
				if id == "" {
					return fmt.Errorf("event-id argument is required")
				}
				if err := a.engine.Refresh(c.Context); err != nil {
					return err
				}
				if err := a.engine.Delete(c.Context, id); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", id)
				return nil
			})
		},
	}
}

func attendeesCommand() *cli.Command {
	return &cli.Command{
		Name:  "attendees",
		Usage: "Manage an event's attendee list.",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				ArgsUsage: "<event-id> <username>",
				Action: func(c *cli.Context) error {
					return run(c, func(a *app) error {
						id, attendee := c.Args().Get(0), c.Args().Get(1)
						if id == "" || attendee == "" {
							return fmt.Errorf("event-id and username arguments are required")
						}
						if err := a.engine.Refresh(c.Context); err != nil {
							return err
						}
						if err := a.engine.Attendees(id).Add(c.Context, attendee); err != nil {
							return err
						}
						fmt.Printf("Added %s to %s\n", attendee, id)
						return nil
					})
				},
			},
			{
				Name:      "remove",
				ArgsUsage: "<event-id> <attendee-id>",
				Action: func(c *cli.Context) error {
					return run(c, func(a *app) error {
						id, attendee := c.Args().Get(0), c.Args().Get(1)
						if id == "" || attendee == "" {
							return fmt.Errorf("event-id and attendee-id arguments are required")
						}
						if err := a.engine.Refresh(c.Context); err != nil {
							return err
						}
						if err := a.engine.Attendees(id).Remove(c.Context, attendee); err != nil {
							return err
						}
						fmt.Printf("Removed %s from %s\n", attendee, id)
						return nil
					})
				},
			},
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export all events as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "Output file (default: stdout)"},
		},
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				if err := a.engine.Refresh(c.Context); err != nil {
					return err
				}

				out := os.Stdout
				if path := c.String("out"); path != "" {
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}
				return export.WriteICS(out, a.engine.Snapshot())
			})
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Poll for remote changes and publish notifications.",
		Action: func(c *cli.Context) error {
			return run(c, func(a *app) error {
				ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				var notifier watcher.Notifier
				if a.notifier != nil {
					notifier = a.notifier
				}
				w := watcher.New(
					&watcher.Config{PollInterval: a.cfg.Watcher.PollInterval},
					a.engine, notifier, a.logger,
				)
				err := w.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, use RFC3339 or '2006-01-02 15:04'", value)
}

func setupLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
