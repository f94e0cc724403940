// Package definition validates, loads and deploys process definitions.
package definition

import (
	"errors"
	"fmt"
)

var (
	// ErrStructuralDefinition indicates a definition graph that cannot be deployed.
	ErrStructuralDefinition = errors.New("structural definition error")

	// ErrDefinitionNotFound indicates no definition is deployed under the given id.
	ErrDefinitionNotFound = errors.New("process definition not found")

	// ErrInvalidDocument indicates a process document that failed schema validation or decoding.
	ErrInvalidDocument = errors.New("invalid process document")
)

// StructuralError lists every problem found in a definition.
type StructuralError struct {
	DefinitionID string
	Problems     []string
}

func (e *StructuralError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("definition %s: %s", e.DefinitionID, e.Problems[0])
	}

	return fmt.Sprintf("definition %s: %d problems: %v", e.DefinitionID, len(e.Problems), e.Problems)
}

func (e *StructuralError) Unwrap() error {
	return ErrStructuralDefinition
}

// DocumentError wraps a loader failure with the document it came from.
type DocumentError struct {
	Source string
	Err    error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

func (e *DocumentError) Is(target error) bool {
	return target == ErrInvalidDocument || errors.Is(e.Err, target)
}

// IsStructuralError checks if an error was raised by definition validation.
func IsStructuralError(err error) bool {
	return errors.Is(err, ErrStructuralDefinition)
}

// IsDefinitionNotFound checks if an error indicates an unknown definition id.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInvalidDocument checks if an error was raised while loading a process document.
func IsInvalidDocument(err error) bool {
	return errors.Is(err, ErrInvalidDocument)
}
