// Package servicetest wires services against the in-memory gateway for tests.
package servicetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// Notices records every failed mutation reported by the cache.
type Notices struct {
	mu     sync.Mutex
	names  []string
	errors []error
}

func (n *Notices) MutationFailed(_ context.Context, mutation string, err error) {
	n.mu.Lock()
	n.names = append(n.names, mutation)
	n.errors = append(n.errors, err)
	n.mu.Unlock()
}

func (n *Notices) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}

func (n *Notices) Names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.names...)
}

// Last returns the most recent failure, or nil.
func (n *Notices) Last() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.errors) == 0 {
		return nil
	}
	return n.errors[len(n.errors)-1]
}

type Env struct {
	Store   *memory.Store
	Gateway *repository.Gateway
	Cache   *querycache.Cache
	Notices *Notices
}

// New returns a fresh store and cache. Background refetches are drained and
// the cache closed when the test ends.
func New(t *testing.T, tweak ...func(*querycache.Options)) *Env {
	t.Helper()
	opts := querycache.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	opts.CleanupInterval = 0
	for _, fn := range tweak {
		fn(&opts)
	}
	store := memory.New()
	notices := &Notices{}
	cache := querycache.New(opts, querycache.WithNotifier(notices), querycache.WithMetrics(metrics.New("test")))
	t.Cleanup(func() {
		cache.Wait()
		cache.Close()
	})
	return &Env{Store: store, Gateway: store.Gateway(), Cache: cache, Notices: notices}
}
