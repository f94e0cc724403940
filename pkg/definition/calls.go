package definition

import (
	"slices"
	"strings"

	"github.com/dukex/procflow/pkg/models"
)

// CallCycles reports every call_subprocess chain among definitions that leads
// back to a process already on the chain. Calls to processes outside
// definitions are ignored.
func CallCycles(definitions []*models.ProcessDefinition) []string {
	calls := make(map[string][]string, len(definitions))

	for _, def := range definitions {
		if def == nil {
			continue
		}

		var targets []string

		for _, activity := range def.Activities {
			if activity != nil && activity.Kind == models.ActivityKindCallSubprocess && activity.Process != "" {
				targets = append(targets, activity.Process)
			}
		}

		calls[def.ID] = targets
	}

	ids := make([]string, 0, len(calls))
	for id := range calls {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	const (
		unvisited = iota
		onPath
		done
	)

	state := make(map[string]int, len(calls))

	var (
		problems []string
		path     []string
		visit    func(id string)
	)

	visit = func(id string) {
		state[id] = onPath
		path = append(path, id)

		for _, target := range calls[id] {
			if _, deployed := calls[target]; !deployed {
				continue
			}

			switch state[target] {
			case onPath:
				start := slices.Index(path, target)
				cycle := append(slices.Clone(path[start:]), target)
				problems = append(problems, "sub-process call cycle "+strings.Join(cycle, " -> "))
			case unvisited:
				visit(target)
			}
		}

		path = path[:len(path)-1]
		state[id] = done
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}

	return problems
}
