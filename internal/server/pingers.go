package server

import (
	"context"
	"fmt"
)

// Pinger is implemented by any dependency that can report its own
// reachability. Implementations return nil when healthy and a descriptive
// error otherwise, and must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error

	// Name is the short label used in readiness responses
	// (e.g. "qdrant", "redis", "model").
	Name() string
}

// pingable matches the Ping method exposed by the vector store and the
// result cache.
type pingable interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts anything with a Ping method into a named Pinger.
type DependencyPinger struct {
	name string
	dep  pingable
}

// NewDependencyPinger wraps dep as a Pinger reporting under name.
func NewDependencyPinger(name string, dep pingable) *DependencyPinger {
	return &DependencyPinger{name: name, dep: dep}
}

func (p *DependencyPinger) Name() string { return p.name }

func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return nil
}

// healthChecker matches the generator's boolean probe.
type healthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// ModelPinger probes the chat model through the generator's minimal
// single-token health check.
type ModelPinger struct {
	gen healthChecker
}

// NewModelPinger wraps the answer generator as a Pinger named "model".
func NewModelPinger(gen healthChecker) *ModelPinger {
	return &ModelPinger{gen: gen}
}

func (p *ModelPinger) Name() string { return "model" }

func (p *ModelPinger) Ping(ctx context.Context) error {
	if !p.gen.HealthCheck(ctx) {
		return fmt.Errorf("model probe failed")
	}
	return nil
}
