package update

import "aether.dev/kernel/kerrors"

// checkCycle rejects a new package whose dependency list would create
// a cycle in the package dependency DAG, walking the existing registry
// depth-first from each of its dependencies (original_source rejects
// cyclic dependency graphs at registration time).
func checkCycle(existing map[string]*Package, candidateID string, deps []string) error {
	visiting := make(map[string]bool)
	var visit func(id string) error
	visit = func(id string) error {
		if id == candidateID {
			return kerrors.New(kerrors.DependencyError, "update.Manager.Register", "dependency graph contains a cycle")
		}
		if visiting[id] {
			return nil
		}
		visiting[id] = true
		pkg, ok := existing[id]
		if !ok {
			return nil
		}
		for _, d := range pkg.Dependencies {
			if err := visit(d); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range deps {
		if err := visit(d); err != nil {
			return err
		}
	}
	return nil
}
