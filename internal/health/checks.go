package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Check status values reported per dependency.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Checker is implemented by anything that can report its own health.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Registry holds the named dependency checks run by readiness probes.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the check for name. A nil checker is ignored.
func (r *Registry) Register(name string, c Checker) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// Names returns the registered check names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently and reports each dependency's status
// and whether all of them passed.
func (r *Registry) Run(ctx context.Context) (map[string]string, bool) {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(checkers))
		healthy = true
	)
	for name, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := StatusOK
			if err := c.HealthCheck(ctx); err != nil {
				status = StatusError
				slog.WarnContext(ctx, "health check failed", "check", name, "error", err)
			}
			mu.Lock()
			results[name] = status
			if status != StatusOK {
				healthy = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results, healthy
}
