package engine

import (
	"log/slog"
	"os"
	"time"

	"github.com/dukex/procflow/pkg/correlation"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/history"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHistory archives finished executions to store instead of process memory.
func WithHistory(store history.Store) Option {
	return func(e *Engine) {
		e.history = store
	}
}

// WithPublisher publishes lifecycle events. Without one no events are emitted.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithCorrelationRegistry(registry *correlation.Registry) Option {
	return func(e *Engine) {
		e.correlations = registry
	}
}

// WithClock replaces time.Now for timestamps and script routines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// WithEndpointVariables supplies values for ${NAME} placeholders in service
// endpoints. Execution variables of the same name take precedence.
func WithEndpointVariables(vars map[string]string) Option {
	return func(e *Engine) {
		for name, value := range vars {
			e.endpointVars[name] = value
		}
	}
}

// WithEnvironment exposes the named process environment variables to service
// endpoints. Unset names are skipped. Nothing else from the environment is visible.
func WithEnvironment(names ...string) Option {
	return func(e *Engine) {
		for _, name := range names {
			if value, ok := os.LookupEnv(name); ok {
				e.endpointVars[name] = value
			}
		}
	}
}

// WithServiceTimeout bounds service calls whose activity sets no timeout.
func WithServiceTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.serviceTimeout = timeout
	}
}
