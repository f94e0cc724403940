// Package correlation tracks which suspended execution waits for which message.
package correlation

import (
	"cmp"
	"slices"
	"sync"
)

// Entry is one waiting execution.
type Entry struct {
	Message     string `json:"message"`
	Key         string `json:"key,omitempty"`
	ExecutionID string `json:"execution_id"`
}

type pair struct {
	message string
	key     string
}

// Registry holds at most one entry per (message, key) pair. Every operation runs
// under a single mutex, so a check-then-register or lookup-then-remove cannot
// interleave with another caller.
type Registry struct {
	mu      sync.Mutex
	entries map[pair]string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[pair]string)}
}

// Register parks executionID on (message, key).
func (r *Registry) Register(message, key, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := pair{message: message, key: key}
	if _, taken := r.entries[p]; taken {
		return &Error{Op: "register", Message: message, Key: key, Err: ErrDuplicateCorrelation}
	}

	r.entries[p] = executionID

	return nil
}

// Take removes and returns the execution waiting on (message, key). A non-empty
// key needs an exact match; an empty key matches the only entry for message
// whatever its key.
func (r *Registry) Take(message, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key != "" {
		p := pair{message: message, key: key}

		executionID, ok := r.entries[p]
		if !ok {
			return "", &Error{Op: "correlate", Message: message, Key: key, Err: ErrNoMatchingExecution}
		}

		delete(r.entries, p)

		return executionID, nil
	}

	var (
		found   pair
		matches int
	)

	for p := range r.entries {
		if p.message == message {
			found = p
			matches++
		}
	}

	switch matches {
	case 0:
		return "", &Error{Op: "correlate", Message: message, Err: ErrNoMatchingExecution}
	case 1:
		executionID := r.entries[found]
		delete(r.entries, found)

		return executionID, nil
	default:
		return "", &Error{Op: "correlate", Message: message, Err: ErrAmbiguousCorrelation}
	}
}

// TakeExecution removes the entry of executionID waiting on message.
func (r *Registry) TakeExecution(message, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p, id := range r.entries {
		if p.message == message && id == executionID {
			delete(r.entries, p)

			return nil
		}
	}

	return &Error{Op: "correlate", Message: message, Key: executionID, Err: ErrNoMatchingExecution}
}

// Remove drops every entry of executionID and reports how many there were.
func (r *Registry) Remove(executionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for p, id := range r.entries {
		if id == executionID {
			delete(r.entries, p)

			removed++
		}
	}

	return removed
}

// Pending lists the entries ordered by message, then key.
func (r *Registry) Pending() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.entries))
	for p, id := range r.entries {
		entries = append(entries, Entry{Message: p.message, Key: p.key, ExecutionID: id})
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Message, b.Message), cmp.Compare(a.Key, b.Key))
	})

	return entries
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
