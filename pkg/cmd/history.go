package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/history"
	"github.com/dukex/procflow/pkg/history/redisstore"
)

var supportedHistoryProviders = []string{"memory", "redis", "rediss"}

// NewHistoryStore opens the archive named by historyURL. "memory://" (or an
// empty URL) keeps history in process; redis:// and rediss:// URLs use Redis,
// expiring entries after retention when it is positive.
func NewHistoryStore(ctx context.Context, historyURL string, retention time.Duration) (history.Store, error) {
	provider := parseHistoryProvider(historyURL)

	switch provider {
	case "memory":
		return history.NewMemoryStore(), nil
	case "redis", "rediss":
		var opts []redisstore.Option
		if retention > 0 {
			opts = append(opts, redisstore.WithTTL(retention))
		}

		store, err := redisstore.NewFromURL(ctx, historyURL, opts...)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported history provider %q, expected one of %s",
			provider, strings.Join(supportedHistoryProviders, ", "))
	}
}

func parseHistoryProvider(historyURL string) string {
	if historyURL == "" {
		return "memory"
	}

	provider, _, found := strings.Cut(historyURL, "://")
	if !found {
		return historyURL
	}

	return provider
}
