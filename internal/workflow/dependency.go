package workflow

// DependencyOrder is the result of topologically sorting a step list by
// depends_on: a flat execution order plus the level partition (steps whose
// dependencies are all satisfied by earlier levels).
type DependencyOrder struct {
	Order  []int
	Levels [][]int
}

// HasDependencies reports whether any step declares depends_on, letting the
// engine skip resolution entirely for the common dependency-free case.
func HasDependencies(steps []*Step) bool {
	for _, st := range steps {
		if len(st.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// ResolveDependencies runs Kahn's algorithm over the step list, draining one
// full level (all currently zero-in-degree nodes) per outer iteration so the
// level partition can later back a parallel executor without touching the
// workflow format.
func ResolveDependencies(steps []*Step) (*DependencyOrder, error) {
	if len(steps) == 0 {
		return &DependencyOrder{}, nil
	}

	nameToIdx := make(map[string]int, len(steps))
	for i, st := range steps {
		if _, dup := nameToIdx[st.Name]; dup {
			return nil, newErrf(KindDependency, st.Name, "name", "duplicate step name in workflow: %s", st.Name)
		}
		nameToIdx[st.Name] = i
	}

	deps := make([][]int, len(steps))
	for i, st := range steps {
		for _, depName := range st.DependsOn {
			depIdx, ok := nameToIdx[depName]
			if !ok {
				return nil, newErrf(KindDependency, st.Name, "depends_on",
					"step %q depends on non-existent step %q", st.Name, depName)
			}
			deps[i] = append(deps[i], depIdx)
		}
	}

	inDegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, stepDeps := range deps {
		for _, depIdx := range stepDeps {
			dependents[depIdx] = append(dependents[depIdx], i)
		}
		inDegree[i] = len(stepDeps)
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(steps))
	var levels [][]int

	for len(queue) > 0 {
		level := queue
		queue = nil
		for _, idx := range level {
			order = append(order, idx)
			for _, dependentIdx := range dependents[idx] {
				inDegree[dependentIdx]--
				if inDegree[dependentIdx] == 0 {
					queue = append(queue, dependentIdx)
				}
			}
		}
		levels = append(levels, level)
	}

	if len(order) != len(steps) {
		done := make(map[int]bool, len(order))
		for _, idx := range order {
			done[idx] = true
		}
		var cyclic []string
		for i, st := range steps {
			if !done[i] {
				cyclic = append(cyclic, st.Name)
			}
		}
		return nil, newErrf(KindDependency, "", "depends_on",
			"dependency cycle detected involving steps: %s", joinNames(cyclic))
	}

	return &DependencyOrder{Order: order, Levels: levels}, nil
}

// GetExecutionOrder resolves dependencies and returns the steps themselves
// in execution order.
func GetExecutionOrder(steps []*Step) ([]*Step, error) {
	dep, err := ResolveDependencies(steps)
	if err != nil {
		return nil, err
	}
	out := make([]*Step, len(dep.Order))
	for i, idx := range dep.Order {
		out[i] = steps[idx]
	}
	return out, nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
