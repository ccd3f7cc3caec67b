package board

import (
	"errors"
	"fmt"
)

var ErrDependencyCycle = errors.New("dependency would create a cycle")

// CheckDependency reports whether taskID may depend on dependsOnID given the
// existing edges (task -> tasks it depends on).
func CheckDependency(edges map[string][]string, taskID, dependsOnID string) error {
	if taskID == dependsOnID {
		return fmt.Errorf("task %s depends on itself: %w", taskID, ErrDependencyCycle)
	}
	seen := map[string]bool{}
	stack := []string{dependsOnID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == taskID {
			return fmt.Errorf("task %s already depends on %s: %w", dependsOnID, taskID, ErrDependencyCycle)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, edges[id]...)
	}
	return nil
}
