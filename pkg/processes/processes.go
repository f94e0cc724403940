// Package processes ships the reference process definitions.
package processes

import (
	"context"
	"embed"

	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/models"
)

const (
	UserRegistration  = "user-registration-process"
	ChooseNextProcess = "chose-next-process"

	EmailConfirmedMessage = "email_confirmed_message"
	WaitForConfirmation   = "Activity_0g1mra7"
	CallChooseNext        = "Activity_0k5uvzl"
)

//go:embed definitions/*.yaml
var files embed.FS

// Load decodes the embedded definitions.
func Load() ([]*models.ProcessDefinition, error) {
	return definition.LoadFS(files, "definitions")
}

// Deploy loads and deploys the embedded definitions to repo.
func Deploy(ctx context.Context, repo *definition.Repository) error {
	definitions, err := Load()
	if err != nil {
		return err
	}

	for _, def := range definitions {
		err = repo.Deploy(ctx, def)
		if err != nil {
			return err
		}
	}

	return nil
}
