// Package registry maps delegate and script names used by process definitions to
// their implementations.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"plugin"
	"slices"
	"sync"

	"github.com/dukex/procflow/pkg/protocol"
)

var (
	ErrDelegateNotRegistered = errors.New("delegate not registered")
	ErrScriptNotRegistered   = errors.New("script not registered")
)

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	delegates map[string]protocol.Delegate
	scripts   map[string]protocol.Script
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log,
		delegates: make(map[string]protocol.Delegate),
		scripts:   make(map[string]protocol.Script),
	}
}

// RegisterDelegate binds name to delegate, replacing any previous binding.
func (r *Registry) RegisterDelegate(name string, delegate protocol.Delegate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delegates[name] = delegate
}

func (r *Registry) RegisterScript(name string, script protocol.Script) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scripts[name] = script
}

func (r *Registry) Delegate(name string) (protocol.Delegate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delegate, ok := r.delegates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDelegateNotRegistered, name)
	}

	return delegate, nil
}

func (r *Registry) Script(name string) (protocol.Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	script, ok := r.scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScriptNotRegistered, name)
	}

	return script, nil
}

// DelegateNames returns the registered delegate names in sorted order.
func (r *Registry) DelegateNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.delegates)
}

// ScriptNames returns the registered script names in sorted order.
func (r *Registry) ScriptNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.scripts)
}

// LoadDelegatePlugins opens every *.so under pluginsPath/delegates and registers
// the protocol.NamedDelegate each one exports as the Delegate symbol.
func (r *Registry) LoadDelegatePlugins(pluginsPath string) error {
	delegates, err := loadPlugin[protocol.NamedDelegate](r.logger, pluginsPath, "Delegate")
	if err != nil {
		return err
	}

	for _, delegate := range delegates {
		r.RegisterDelegate(delegate.Name(), delegate)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := path.Join(pluginsPath, "delegates")

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(path.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p, err)
		}

		var castV T

		switch symbol := v.(type) {
		case T:
			castV = symbol
		case *T:
			castV = *symbol
		default:
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
