// Package notify creates, refreshes and removes the notifications shown in a
// user's feed.
package notify

import (
	"fmt"

	"kanban/api/internal/store"
)

// Variant is one of Assignment, Deadline or Invite.
type Variant interface {
	Kind() store.NotificationKind
	Message() string
	row() store.Notification
}

type Assignment struct {
	TaskID   string
	TaskName string
}

func (a Assignment) Kind() store.NotificationKind { return store.KindAssignment }

func (a Assignment) Message() string {
	return fmt.Sprintf("%s has been assigned to you.", a.TaskName)
}

func (a Assignment) row() store.Notification {
	return store.Notification{Kind: a.Kind(), TaskID: a.TaskID, Message: a.Message()}
}

// Deadline warns about a task due within the warning window. DaysLeft <= 0
// means the due date has passed.
type Deadline struct {
	TaskID   string
	TaskName string
	DaysLeft int
}

func (d Deadline) Kind() store.NotificationKind { return store.KindDeadline }

func (d Deadline) Message() string {
	if d.DaysLeft > 0 {
		return fmt.Sprintf("%s's deadline is in %d day(s).", d.TaskName, d.DaysLeft)
	}
	return fmt.Sprintf("%s's deadline has passed.", d.TaskName)
}

func (d Deadline) row() store.Notification {
	return store.Notification{Kind: d.Kind(), TaskID: d.TaskID, Message: d.Message()}
}

type Invite struct {
	InviteID string
	TeamName string
}

func (i Invite) Kind() store.NotificationKind { return store.KindInvite }

func (i Invite) Message() string {
	return fmt.Sprintf("Do you wish to join %s?", i.TeamName)
}

func (i Invite) row() store.Notification {
	return store.Notification{Kind: i.Kind(), InviteID: i.InviteID, Message: i.Message()}
}

// Predicate selects notifications of one user.
type Predicate func(store.Notification) bool

func ForTask(kind store.NotificationKind, taskID string) Predicate {
	return func(n store.Notification) bool {
		return n.Kind == kind && n.TaskID == taskID
	}
}

func ForInvite(inviteID string) Predicate {
	return func(n store.Notification) bool {
		return n.Kind == store.KindInvite && n.InviteID == inviteID
	}
}
