// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/delegates/recorder"
	"github.com/dukex/procflow/pkg/delegates/sendemail"
	"github.com/dukex/procflow/pkg/invokers/httpinvoker"
	"github.com/dukex/procflow/pkg/invokers/stub"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/scripts"
)

// DelegateConfig selects the delegate implementations.
type DelegateConfig struct {
	// Mode is "real" or "recording".
	Mode string
	// NotifierEndpoint, when set, makes the real email delegate post to it.
	NotifierEndpoint string
	PluginsPath      string
}

func registerNativeDelegates(reg *registry.Registry, config DelegateConfig, invoker protocol.ServiceInvoker) error {
	switch config.Mode {
	case "", "real":
		var opts []sendemail.Option
		if config.NotifierEndpoint != "" {
			opts = append(opts, sendemail.WithNotifier(invoker, config.NotifierEndpoint))
		}

		reg.RegisterDelegate(sendemail.Name, sendemail.New(opts...))
	case "recording":
		reg.RegisterDelegate(sendemail.Name, recorder.New(sendemail.Name))
	default:
		return fmt.Errorf("unsupported delegate mode: %s", config.Mode)
	}

	return nil
}

// NewRegistry registers the built-in scripts, the native delegates and any
// delegate plugins found under the plugins path. Plugins win over natives of
// the same name.
func NewRegistry(logger *slog.Logger, config DelegateConfig, invoker protocol.ServiceInvoker) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	scripts.RegisterBuiltins(reg)

	err := registerNativeDelegates(reg, config, invoker)
	if err != nil {
		return nil, err
	}

	if config.PluginsPath != "" {
		err = reg.LoadDelegatePlugins(config.PluginsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load delegate plugins: %w", err)
		}
	}

	return reg, nil
}

// NewServiceInvoker returns the HTTP invoker for mode "http" and a stub that
// answers 200 to every call for mode "stub".
func NewServiceInvoker(mode string, logger *slog.Logger, retries httpinvoker.RetryConfig) (protocol.ServiceInvoker, error) {
	switch mode {
	case "", "http":
		return httpinvoker.New(logger, httpinvoker.WithRetries(retries)), nil
	case "stub":
		return stub.New(), nil
	default:
		return nil, fmt.Errorf("unsupported service mode: %s", mode)
	}
}
