package eventbus

import "errors"

// DiscardError marks a handler failure that redelivery cannot fix. The message
// is acked instead of nacked.
type DiscardError struct {
	Err error
}

func (e *DiscardError) Error() string {
	return "discarded: " + e.Err.Error()
}

func (e *DiscardError) Unwrap() error {
	return e.Err
}

func Discard(err error) error {
	if err == nil {
		return nil
	}

	return &DiscardError{Err: err}
}

func IsDiscard(err error) bool {
	var discard *DiscardError

	return errors.As(err, &discard)
}
