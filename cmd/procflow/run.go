package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/delegates/sendemail"
	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/invokers/stub"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/processes"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/scripts"
	"github.com/urfave/cli/v3"
)

// runOptions drive one local registration run.
type runOptions struct {
	UserName  string
	UserEmail string
	Confirm   bool
	LogLevel  string
}

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run the user registration process locally against a stub service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "user-name",
				Usage: "userName start variable",
				Value: scripts.DefaultUserName,
			},
			&cli.StringFlag{
				Name:  "user-email",
				Usage: "userEmail start variable",
				Value: scripts.DefaultUserEmail,
			},
			&cli.BoolFlag{
				Name:  "confirm",
				Usage: "Deliver the email confirmation message after the start",
				Value: true,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return runRegistration(ctx, command.Root().Writer, runOptions{
				UserName:  command.String("user-name"),
				UserEmail: command.String("user-email"),
				Confirm:   command.Bool("confirm"),
				LogLevel:  command.String("log-level"),
			})
		},
	}
}

type runReport struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	ActivityID  string         `json:"activity_id"`
	Variables   map[string]any `json:"variables"`
}

func runRegistration(ctx context.Context, out io.Writer, opts runOptions) error {
	if out == nil {
		out = os.Stdout
	}

	logger := log.New(os.Stderr, opts.LogLevel, "text")

	repo := definition.NewRepository(logger)

	err := processes.Deploy(ctx, repo)
	if err != nil {
		return err
	}

	reg := registry.NewRegistry(logger)
	scripts.RegisterBuiltins(reg)
	reg.RegisterDelegate(sendemail.Name, sendemail.New())

	eng := engine.New(repo, reg, stub.New(),
		engine.WithLogger(logger),
		engine.WithEndpointVariables(map[string]string{"SERVICE_API": "stub://service"}))

	id, err := eng.Start(ctx, processes.UserRegistration, map[string]any{
		"userName":  opts.UserName,
		"userEmail": opts.UserEmail,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if opts.Confirm {
		userID, err := eng.GetVariable(ctx, id, "userId")
		if err != nil {
			return err
		}

		err = eng.Correlate(ctx, processes.EmailConfirmedMessage, fmt.Sprint(userID), map[string]any{"emailConfirmed": true})
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
	}

	snapshot, err := eng.Execution(ctx, id)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(runReport{
		ExecutionID: snapshot.ID,
		Status:      string(snapshot.Status),
		ActivityID:  snapshot.ActivityID,
		Variables:   snapshot.Variables,
	})
}
