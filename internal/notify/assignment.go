package notify

import (
	"context"

	"kanban/api/internal/store"
)

type AssignmentNotifier struct {
	store *Store
}

func NewAssignmentNotifier(s *Store) *AssignmentNotifier {
	return &AssignmentNotifier{store: s}
}

// OnAssigned adds one assignment notification per user. Callers pass only
// the users newly assigned to the task.
func (a *AssignmentNotifier) OnAssigned(ctx context.Context, task store.Task, userIDs []string) ([]store.Notification, error) {
	created := make([]store.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		n, err := a.store.Add(ctx, userID, Assignment{TaskID: task.ID, TaskName: task.Name})
		if err != nil {
			return created, err
		}
		created = append(created, n)
	}
	return created, nil
}
