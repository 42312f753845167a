// SPDX-License-Identifier: Apache-2.0

package migration

import "sort"

// Plan is an ordered sequence of migrations ready to apply in that exact
// order: every migration appears after all the migrations it Depends on.
type Plan struct {
	Migrations []*Migration
}

// CreatePlan orders a set of migrations via Kahn's algorithm over their
// Dependencies, breaking ties lexicographically by ID for a deterministic
// result. Returns a *PlanError if the dependency graph contains a cycle.
func CreatePlan(migrations []*Migration) (*Plan, error) {
	byID := make(map[string]*Migration, len(migrations))
	indegree := make(map[string]int, len(migrations))
	dependents := make(map[string][]string, len(migrations))

	for _, m := range migrations {
		byID[m.ID] = m
		if _, ok := indegree[m.ID]; !ok {
			indegree[m.ID] = 0
		}
	}

	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, &PlanError{Reason: "migration " + m.ID + " depends on unknown migration " + dep}
			}
			indegree[m.ID]++
			dependents[dep] = append(dependents[dep], m.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		children := append([]string(nil), dependents[next]...)
		sort.Strings(children)
		for _, child := range children {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(migrations) {
		return nil, &PlanError{Reason: "dependency cycle detected"}
	}

	plan := &Plan{}
	for _, id := range order {
		plan.Migrations = append(plan.Migrations, byID[id])
	}
	return plan, nil
}
