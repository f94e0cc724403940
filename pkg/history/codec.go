package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/scope"
)

type typedValue struct {
	Kind  scope.Kind `json:"kind"`
	Value any        `json:"value"`
}

type record struct {
	models.ExecutionSnapshot

	Variables map[string]typedValue `json:"variables"`
}

// Encode serialises a snapshot as JSON, tagging every variable with its kind so
// Decode restores timestamps as time.Time.
func Encode(snapshot *models.ExecutionSnapshot) ([]byte, error) {
	rec := record{
		ExecutionSnapshot: *snapshot,
		Variables:         make(map[string]typedValue, len(snapshot.Variables)),
	}
	rec.ExecutionSnapshot.Variables = nil

	for name, value := range snapshot.Variables {
		kind, ok := scope.KindOf(value)
		if !ok && value != nil {
			return nil, fmt.Errorf("%w: variable %q has unsupported type %T", ErrInvalidSnapshot, name, value)
		}

		if t, isTime := value.(time.Time); isTime {
			value = t.Format(time.RFC3339Nano)
		}

		rec.Variables[name] = typedValue{Kind: kind, Value: value}
	}

	return json.Marshal(rec)
}

func Decode(data []byte) (*models.ExecutionSnapshot, error) {
	var rec record

	err := json.Unmarshal(data, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	snapshot := rec.ExecutionSnapshot
	snapshot.Variables = make(map[string]any, len(rec.Variables))

	for name, typed := range rec.Variables {
		value := typed.Value

		if typed.Kind == scope.KindTimestamp {
			raw, _ := value.(string)

			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode timestamp %q: %w", name, err)
			}

			value = parsed
		}

		snapshot.Variables[name] = value
	}

	return &snapshot, nil
}
