package strategy

import (
	"errors"
	"fmt"
	"sort"

	"agent-arena/internal/game"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Factory builds a fresh strategy instance. Seeded strategies use seed;
// the others ignore it.
type Factory func(seed int64) game.Strategy

// Registry maps strategy names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("aggressive", func(int64) game.Strategy { return Aggressive() })
	r.Register("defensive", func(int64) game.Strategy { return Defensive() })
	r.Register("diplomat", func(int64) game.Strategy { return Diplomat() })
	r.Register("random", Random)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New builds the named strategy.
func (r *Registry) New(name string, seed int64) (game.Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return f(seed), nil
}

// Names lists registered strategies alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
