package modules

import (
	"fmt"

	"github.com/itsmostafa/rerequire/internal/resolve"
)

// Policy selects which part of the graph Evict purges besides the key itself.
type Policy string

const (
	// EvictDependencies purges the key and every module it transitively
	// requires.
	EvictDependencies Policy = "dependencies"

	// EvictBoth additionally purges every cached module that transitively
	// requires the key.
	EvictBoth Policy = "both"
)

// ParsePolicy validates a policy name. An empty name selects the default.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "", EvictDependencies:
		return EvictDependencies, nil
	case EvictBoth:
		return EvictBoth, nil
	default:
		return "", fmt.Errorf("invalid eviction policy: %s (must be one of: dependencies, both)", name)
	}
}

// Evict removes key from the cache so the next Load re-executes it. Calling it
// for a key with no cache entry only drops the session root's reference.
// It returns the evicted keys, each listed after its own dependencies.
//
// Over-eviction is accepted: a dependency shared with an unrelated module is
// purged too, and that module keeps the exports it already holds.
func (l *Loader) Evict(key resolve.Key) []resolve.Key {
	l.root.removeChild(key)

	m, ok := l.cache[key]
	if !ok {
		return nil
	}

	var targets []*Module
	if l.policy == EvictBoth {
		targets = l.dependents(key)
	}
	targets = append(targets, m)

	var evicted []resolve.Key
	visited := make(map[resolve.Key]bool)
	for _, target := range targets {
		evicted = l.evictSubtree(target, visited, evicted)
	}

	l.logger.Debug("modules evicted", "key", key.String(), "count", len(evicted), "policy", string(l.policy))
	return evicted
}

// evictSubtree deletes m's dependencies depth-first, then m.
func (l *Loader) evictSubtree(m *Module, visited map[resolve.Key]bool, evicted []resolve.Key) []resolve.Key {
	if visited[m.Key] {
		return evicted
	}
	visited[m.Key] = true

	for _, child := range m.Children {
		if cached, ok := l.cache[child]; ok {
			evicted = l.evictSubtree(cached, visited, evicted)
		}
	}
	delete(l.cache, m.Key)
	return append(evicted, m.Key)
}

// dependents returns every cached module that transitively requires key.
func (l *Loader) dependents(key resolve.Key) []*Module {
	seen := map[resolve.Key]bool{key: true}
	queue := []resolve.Key{key}
	var result []*Module

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, m := range l.cache {
			if seen[m.Key] {
				continue
			}
			for _, child := range m.Children {
				if child == current {
					seen[m.Key] = true
					queue = append(queue, m.Key)
					result = append(result, m)
					break
				}
			}
		}
	}
	return result
}
