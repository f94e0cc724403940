package definition

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the graph shape: exactly one start node,
// every non-end activity with an outgoing transition to a known activity, no
// transition out of an end, every activity reachable from the start, no cycles.
func Validate(definition *models.ProcessDefinition) error {
	if definition == nil {
		return &StructuralError{Problems: []string{"definition is nil"}}
	}

	problems := fieldProblems(definition)

	byID := make(map[string]*models.Activity, len(definition.Activities))
	incoming := make(map[string]int, len(definition.Activities))

	for _, activity := range definition.Activities {
		if activity == nil || activity.ID == "" {
			continue
		}

		if _, dup := byID[activity.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate activity id %q", activity.ID))

			continue
		}

		byID[activity.ID] = activity
	}

	hasEnd := false

	for _, activity := range byID {
		switch {
		case activity.IsEnd():
			hasEnd = true

			if activity.Next != "" {
				problems = append(problems, fmt.Sprintf("end activity %q must not have an outgoing transition", activity.ID))
			}
		case activity.Next == "":
			problems = append(problems, fmt.Sprintf("activity %q has no outgoing transition", activity.ID))
		default:
			if _, ok := byID[activity.Next]; !ok {
				problems = append(problems, fmt.Sprintf("activity %q transitions to unknown activity %q", activity.ID, activity.Next))
			} else {
				incoming[activity.Next]++
			}
		}
	}

	if len(byID) > 0 && !hasEnd {
		problems = append(problems, "definition has no end activity")
	}

	starts := startNodes(definition, byID, incoming)

	switch {
	case len(byID) == 0:
	case len(starts) == 0:
		problems = append(problems, "definition has no start activity")
	case len(starts) > 1:
		problems = append(problems, fmt.Sprintf("definition has multiple start activities %v", starts))
	default:
		problems = append(problems, graphProblems(starts[0], byID)...)
	}

	if len(problems) > 0 {
		return &StructuralError{DefinitionID: definition.ID, Problems: problems}
	}

	return nil
}

// StartActivity returns the single activity without incoming transitions.
// It assumes the definition passed Validate.
func StartActivity(definition *models.ProcessDefinition) (*models.Activity, error) {
	byID := make(map[string]*models.Activity, len(definition.Activities))
	incoming := make(map[string]int, len(definition.Activities))

	for _, activity := range definition.Activities {
		byID[activity.ID] = activity
	}

	for _, activity := range definition.Activities {
		if activity.Next != "" {
			incoming[activity.Next]++
		}
	}

	starts := startNodes(definition, byID, incoming)
	if len(starts) != 1 {
		return nil, &StructuralError{DefinitionID: definition.ID, Problems: []string{"definition must have exactly one start activity"}}
	}

	return byID[starts[0]], nil
}

// startNodes keeps definition order so error messages are stable.
func startNodes(definition *models.ProcessDefinition, byID map[string]*models.Activity, incoming map[string]int) []string {
	var starts []string

	for _, activity := range definition.Activities {
		if activity == nil || activity.IsEnd() {
			continue
		}

		if byID[activity.ID] != activity {
			continue
		}

		if incoming[activity.ID] == 0 {
			starts = append(starts, activity.ID)
		}
	}

	return starts
}

// graphProblems walks the single-successor chain from start. Every activity has at
// most one successor, so the walk either reaches an end, revisits a node (cycle)
// or stops at a broken transition already reported.
func graphProblems(start string, byID map[string]*models.Activity) []string {
	var problems []string

	visited := make(map[string]bool, len(byID))

	for current := start; current != ""; {
		if visited[current] {
			problems = append(problems, fmt.Sprintf("cycle detected at activity %q", current))

			break
		}

		visited[current] = true

		activity, ok := byID[current]
		if !ok {
			break
		}

		current = activity.Next
	}

	for id := range byID {
		if !visited[id] {
			problems = append(problems, fmt.Sprintf("activity %q is unreachable from the start activity", id))
		}
	}

	return problems
}

func fieldProblems(definition *models.ProcessDefinition) []string {
	err := validate.Struct(definition)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		problems = append(problems, fmt.Sprintf("field %s failed on %q", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return problems
}
