package definition

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// Repository holds deployed definitions in memory. Redeploying an id replaces the
// previous definition for new executions; running executions keep the one they started with.
type Repository struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	definitions map[string]*models.ProcessDefinition
	now         func() time.Time
}

// NewRepository creates an empty repository.
func NewRepository(logger *slog.Logger) *Repository {
	return &Repository{
		logger:      logger.With("module", "definition_repository"),
		definitions: make(map[string]*models.ProcessDefinition),
		now:         time.Now,
	}
}

// Deploy validates definition and stores a copy of it under its id. Structural
// errors, including sub-process calls that lead back to the calling process,
// abort the deployment and leave the repository untouched.
func (r *Repository) Deploy(ctx context.Context, definition *models.ProcessDefinition) error {
	err := Validate(definition)
	if err != nil {
		r.logger.ErrorContext(ctx, "Rejected process definition", "definition_id", definitionID(definition), "error", err)

		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.checkCalls(definition)
	if err != nil {
		r.logger.ErrorContext(ctx, "Rejected process definition", "definition_id", definition.ID, "error", err)

		return err
	}

	deployed := definition.Clone()
	deployed.DeployedAt = r.now().UTC()

	if previous, ok := r.definitions[definition.ID]; ok && deployed.Version <= previous.Version {
		deployed.Version = previous.Version + 1
	}

	if deployed.Version == 0 {
		deployed.Version = 1
	}

	r.definitions[definition.ID] = deployed

	r.logger.InfoContext(ctx, "Deployed process definition",
		"definition_id", deployed.ID,
		"version", deployed.Version,
		"activities", len(deployed.Activities),
	)

	return nil
}

// checkCalls looks for call cycles among the deployed definitions with
// candidate in place of any previous version. Must be called with r.mu held.
func (r *Repository) checkCalls(candidate *models.ProcessDefinition) error {
	definitions := []*models.ProcessDefinition{candidate}

	for id, def := range r.definitions {
		if id != candidate.ID {
			definitions = append(definitions, def)
		}
	}

	problems := CallCycles(definitions)
	if len(problems) > 0 {
		return &StructuralError{DefinitionID: candidate.ID, Problems: problems}
	}

	return nil
}

// Get returns the current definition for id. It is shared and must not be modified.
func (r *Repository) Get(id string) (*models.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definition, ok := r.definitions[id]
	if !ok {
		return nil, ErrDefinitionNotFound
	}

	return definition, nil
}

// List returns every deployed definition ordered by id.
func (r *Repository) List() []*models.ProcessDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := slices.Collect(maps.Values(r.definitions))
	slices.SortFunc(definitions, func(a, b *models.ProcessDefinition) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return definitions
}

func definitionID(definition *models.ProcessDefinition) string {
	if definition == nil {
		return ""
	}

	return definition.ID
}
