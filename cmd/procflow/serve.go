package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/history"
	"github.com/dukex/procflow/pkg/invokers/httpinvoker"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/processes"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the process engine and its HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "definitions",
				Usage:   "Directory of process documents deployed at startup, next to the built-in ones",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "history-url",
				Usage:   "Archive of finished executions (memory://, redis://host:port/db)",
				Value:   "memory://",
				Sources: cli.EnvVars("HISTORY_URL"),
			},
			&cli.DurationFlag{
				Name:    "history-retention",
				Usage:   "How long finished executions stay in the archive",
				Value:   7 * 24 * time.Hour,
				Sources: cli.EnvVars("HISTORY_RETENTION"),
			},
			&cli.DurationFlag{
				Name:    "live-retention",
				Usage:   "How long finished executions stay in the live table",
				Value:   time.Hour,
				Sources: cli.EnvVars("LIVE_RETENTION"),
			},
			&cli.StringFlag{
				Name:    "prune-schedule",
				Usage:   "Cron schedule for pruning finished executions",
				Value:   "*/15 * * * *",
				Sources: cli.EnvVars("PRUNE_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "services",
				Usage:   "Service invoker (http, stub)",
				Value:   "http",
				Sources: cli.EnvVars("SERVICE_MODE"),
			},
			&cli.StringFlag{
				Name:    "service-api",
				Usage:   "Base URL substituted for ${SERVICE_API} in service endpoints",
				Value:   "http://localhost:8080/api",
				Sources: cli.EnvVars("SERVICE_API"),
			},
			&cli.StringSliceFlag{
				Name:    "endpoint-env",
				Usage:   "Environment variables service endpoints may reference",
				Sources: cli.EnvVars("ENDPOINT_ENV"),
			},
			&cli.IntFlag{
				Name:    "service-retries",
				Usage:   "Extra attempts for failed service calls",
				Value:   2,
				Sources: cli.EnvVars("SERVICE_RETRIES"),
			},
			&cli.DurationFlag{
				Name:    "service-timeout",
				Usage:   "Timeout for service calls without their own",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("SERVICE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "delegates",
				Usage:   "Delegate implementations (real, recording)",
				Value:   "real",
				Sources: cli.EnvVars("DELEGATE_MODE"),
			},
			&cli.StringFlag{
				Name:    "notifier-endpoint",
				Usage:   "Mail endpoint the email delegate posts to",
				Sources: cli.EnvVars("NOTIFIER_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing delegate plugins",
				Value:    "./plugins",
				Required: false,
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("procflow")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing procflow")

			tracer, shutdownTracer, err := newTracer(ctx, command.Bool("tracing"))
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			invoker, err := cmd.NewServiceInvoker(command.String("services"), logger, httpinvoker.RetryConfig{
				Attempts: command.Int("service-retries") + 1,
				Delay:    500 * time.Millisecond,
			})
			if err != nil {
				return err
			}

			registry, err := cmd.NewRegistry(logger, cmd.DelegateConfig{
				Mode:             command.String("delegates"),
				NotifierEndpoint: command.String("notifier-endpoint"),
				PluginsPath:      command.String("plugins-path"),
			}, invoker)
			if err != nil {
				return err
			}

			definitions, err := deployDefinitions(ctx, logger, command.String("definitions"))
			if err != nil {
				return err
			}

			store, err := cmd.NewHistoryStore(ctx, command.String("history-url"), command.Duration("history-retention"))
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}

			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close history store", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			eng := engine.New(definitions, registry, invoker,
				engine.WithLogger(logger),
				engine.WithHistory(store),
				engine.WithPublisher(eventBus),
				engine.WithTracer(tracer),
				engine.WithServiceTimeout(command.Duration("service-timeout")),
				engine.WithEnvironment(command.StringSlice("endpoint-env")...),
				engine.WithEndpointVariables(map[string]string{"SERVICE_API": command.String("service-api")}),
			)

			err = eng.RegisterHandlers(eventBus)
			if err != nil {
				return fmt.Errorf("failed to register event handlers: %w", err)
			}

			err = eventBus.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}

			pruner, err := history.NewPruner(logger, command.String("prune-schedule"))
			if err != nil {
				return err
			}

			pruner.Add("history", command.Duration("history-retention"), history.StoreTarget(store))
			pruner.Add("live", command.Duration("live-retention"), history.PruneFunc(eng.Prune))

			err = pruner.Start(ctx)
			if err != nil {
				return err
			}
			defer pruner.Stop()

			return NewAPI(logger, eng, registry).Start(ctx, command.Int("port"))
		},
	}
}

// deployDefinitions deploys the built-in processes, then every document in dir.
func deployDefinitions(ctx context.Context, logger *slog.Logger, dir string) (*definition.Repository, error) {
	repo := definition.NewRepository(log.WithModule("definitions"))

	err := processes.Deploy(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy built-in processes: %w", err)
	}

	if dir == "" {
		return repo, nil
	}

	loaded, err := definition.LoadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, def := range loaded {
		err = repo.Deploy(ctx, def)
		if err != nil {
			return nil, err
		}
	}

	logger.InfoContext(ctx, "Deployed process definitions", "path", dir, "count", len(loaded))

	return repo, nil
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func newTracer(ctx context.Context, enabled bool) (trace.Tracer, otelhelper.Shutdown, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	return otelhelper.NewTracer(ctx, "procflow")
}
