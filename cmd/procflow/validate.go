package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/delegates/sendemail"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/processes"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/scripts"
	"github.com/urfave/cli/v3"
)

var (
	ErrNoDocuments        = errors.New("no process documents given")
	ErrInvalidDefinitions = errors.New("invalid process definitions found")
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate process documents without deploying them",
		ArgsUsage: "<file or directory>...",
		Action: func(_ context.Context, command *cli.Command) error {
			paths := command.Args().Slice()
			if len(paths) == 0 {
				return ErrNoDocuments
			}

			return validateDocuments(command.Root().Writer, paths)
		},
	}
}

// validateDocuments checks every document structurally, then checks that the
// scripts and sub-processes they refer to exist and that sub-process calls never
// lead back to the caller. Built-in processes count as
// deployed. Unknown delegates only warn since plugins may provide them.
func validateDocuments(out io.Writer, paths []string) error {
	if out == nil {
		out = os.Stdout
	}

	var (
		loaded   []*models.ProcessDefinition
		valid    int
		failures int
	)

	for _, p := range paths {
		definitions, err := load(p)
		if err != nil {
			_, _ = fmt.Fprintf(out, "FAIL %s\n     %v\n", p, err)
			failures++
		}

		loaded = append(loaded, definitions...)
	}

	builtin, err := processes.Load()
	if err != nil {
		return err
	}

	known := make([]string, 0, len(builtin)+len(loaded))
	for _, def := range slices.Concat(builtin, loaded) {
		known = append(known, def.ID)
	}

	reg := registry.NewRegistry(log.Discard())
	scripts.RegisterBuiltins(reg)
	scriptNames := reg.ScriptNames()

	for _, def := range loaded {
		problems := referenceProblems(def, known, scriptNames)

		err := definition.Validate(def)
		if err != nil {
			problems = append([]string{err.Error()}, problems...)
		}

		if len(problems) > 0 {
			failures++

			_, _ = fmt.Fprintf(out, "FAIL %s\n", def.ID)
			for _, problem := range problems {
				_, _ = fmt.Fprintf(out, "     %s\n", problem)
			}

			continue
		}

		valid++

		_, _ = fmt.Fprintf(out, "ok   %s (%d activities)\n", def.ID, len(def.Activities))

		for _, activity := range def.Activities {
			if activity.Kind == models.ActivityKindDelegateTask && activity.Delegate != sendemail.Name {
				_, _ = fmt.Fprintf(out, "     warning: delegate %s must be provided by a plugin\n", activity.Delegate)
			}
		}
	}

	for _, cycle := range definition.CallCycles(slices.Concat(builtin, loaded)) {
		failures++

		_, _ = fmt.Fprintf(out, "FAIL %s\n", cycle)
	}

	_, _ = fmt.Fprintf(out, "\n%d valid, %d invalid\n", valid, failures)

	if failures > 0 {
		return ErrInvalidDefinitions
	}

	return nil
}

func load(p string) ([]*models.ProcessDefinition, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return definition.LoadDir(p)
	}

	def, err := definition.LoadFile(p)
	if err != nil {
		return nil, err
	}

	return []*models.ProcessDefinition{def}, nil
}

func referenceProblems(def *models.ProcessDefinition, known []string, scriptNames []string) []string {
	var problems []string

	for _, activity := range def.Activities {
		switch activity.Kind {
		case models.ActivityKindCallSubprocess:
			if activity.Process != "" && !slices.Contains(known, activity.Process) {
				problems = append(problems, fmt.Sprintf("activity %s calls unknown process %s", activity.ID, activity.Process))
			}
		case models.ActivityKindScriptInit:
			if activity.Script != "" && !slices.Contains(scriptNames, activity.Script) {
				problems = append(problems, fmt.Sprintf("activity %s runs unknown script %s", activity.ID, activity.Script))
			}
		}
	}

	return problems
}
