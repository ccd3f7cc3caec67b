package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrPositionConflict is returned when a write would put two lanes of one
	// team on the same position.
	ErrPositionConflict = errors.New("lane position already taken")
)

// BoardTx is the set of writes a board mutation may perform while it holds
// the team's lock. Implementations are only valid inside WithinTeam.
type BoardTx interface {
	ListLanes(ctx context.Context, teamID string) ([]Lane, error)
	GetLane(ctx context.Context, laneID string) (Lane, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	InsertLane(ctx context.Context, lane Lane) error
	RenameLane(ctx context.Context, laneID, name string) error
	SetLanePosition(ctx context.Context, laneID string, position int) error
	DeleteLane(ctx context.Context, laneID string) (int, error)
	SetTaskLane(ctx context.Context, taskID, laneID string) error
}

// NotificationTx is the feed access available inside WithinUser. Writes
// through it commit or roll back together.
type NotificationTx interface {
	InsertNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)
	DeleteNotification(ctx context.Context, notificationID string) (bool, error)
}

// civilDate truncates t to midnight UTC of its calendar date in t's location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
