package correlation

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateCorrelation = errors.New("duplicate correlation")
	ErrNoMatchingExecution  = errors.New("no matching execution")
	ErrAmbiguousCorrelation = errors.New("ambiguous correlation")
)

// Error carries the message and key a registry operation was addressed with.
type Error struct {
	Op      string
	Message string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Message, e.Err)
	}

	return fmt.Sprintf("%s %s[%s]: %v", e.Op, e.Message, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsDuplicateCorrelation(err error) bool {
	return errors.Is(err, ErrDuplicateCorrelation)
}

func IsNoMatchingExecution(err error) bool {
	return errors.Is(err, ErrNoMatchingExecution)
}

func IsAmbiguousCorrelation(err error) bool {
	return errors.Is(err, ErrAmbiguousCorrelation)
}
