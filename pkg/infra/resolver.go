package infra

import "fmt"

// -----------------------------------------------------------------------------
// Dependency Resolver
// -----------------------------------------------------------------------------

// dependencies is the static table mapping each component to the components
// that must be installed before it.
var dependencies = map[Component][]Component{
	ComponentK3s:   {},
	ComponentRedis: {ComponentK3s},
	ComponentGitea: {ComponentK3s},
	ComponentKeda:  {ComponentK3s, ComponentRedis},
	ComponentFlux:  {ComponentK3s, ComponentGitea},
}

// Dependencies returns the prerequisite components of c in priority order.
func Dependencies(c Component) []Component {
	deps := dependencies[c]
	out := make([]Component, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the components that list c as a prerequisite, in
// priority order. Used by teardown to refuse removing a component that
// something installed still depends on.
func Dependents(c Component) []Component {
	var out []Component
	for _, candidate := range AllComponents {
		for _, dep := range dependencies[candidate] {
			if dep == c {
				out = append(out, candidate)
			}
		}
	}
	return out
}

// Order topologically sorts the requested components against the static
// dependency table. A prerequisite that is neither already installed nor part
// of the requested set is an error: installation side effects stay explicit,
// missing dependencies are never silently added.
//
// Ties between independent components are broken by the fixed priority order
// of AllComponents, so the output is deterministic.
func Order(requested []Component, installed map[Component]bool) ([]Component, error) {
	want := make(map[Component]bool, len(requested))
	for _, c := range requested {
		want[c] = true
	}

	for _, c := range requested {
		for _, dep := range dependencies[c] {
			if !want[dep] && !installed[dep] {
				return nil, Fatal(ErrPrerequisiteMissing, c, PhasePreFlight,
					fmt.Sprintf("prerequisite %s is not installed and was not requested", dep),
					fmt.Sprintf("run 'raibid setup %s' first, or include it in this invocation", dep),
					nil)
			}
		}
	}

	// Kahn's algorithm, scanning candidates in fixed priority order.
	done := make(map[Component]bool, len(requested))
	ordered := make([]Component, 0, len(requested))
	for len(ordered) < len(want) {
		progressed := false
		for _, c := range AllComponents {
			if !want[c] || done[c] {
				continue
			}
			satisfied := true
			for _, dep := range dependencies[c] {
				if want[dep] && !done[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				done[c] = true
				ordered = append(ordered, c)
				progressed = true
			}
		}
		if !progressed {
			// unreachable with the static table, which is acyclic
			return nil, Fatal(ErrPrerequisiteMissing, "", PhasePreFlight,
				"dependency cycle detected in component table",
				"this is a bug in the dependency table, please report it",
				nil)
		}
	}
	return ordered, nil
}
