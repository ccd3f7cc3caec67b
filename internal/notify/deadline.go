package notify

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/store"
)

// WarningWindow is how many days before the due date members start being
// warned.
const WarningWindow = 5

type DeadlineSource interface {
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	ListTasks(ctx context.Context, teamID string) ([]store.Task, error)
	SetDeadlineMarker(ctx context.Context, taskID string, day time.Time) error
}

type DeadlineNotifier struct {
	store *Store
	src   DeadlineSource
	loc   *time.Location
	now   func() time.Time
}

func NewDeadlineNotifier(s *Store, src DeadlineSource, loc *time.Location, now func() time.Time) *DeadlineNotifier {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &DeadlineNotifier{store: s, src: src, loc: loc, now: now}
}

// dateOf maps t to midnight UTC of its calendar date, so subtracting two
// dates always yields whole days.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is the current calendar date in the board's location.
func (d *DeadlineNotifier) Today() time.Time {
	return dateOf(d.now().In(d.loc))
}

// DaysLeft counts calendar days from today until due, in the board's location.
func (d *DeadlineNotifier) DaysLeft(due, today time.Time) int {
	return int(dateOf(due.In(d.loc)).Sub(dateOf(today)).Hours() / 24)
}

// Due reports whether the task has not been recomputed yet today.
func Due(task store.Task, today time.Time) bool {
	if task.DeadlineMarker == nil {
		return true
	}
	return dateOf(*task.DeadlineMarker).Before(dateOf(today))
}

// Recompute refreshes the deadline notification of every team member for
// task and stamps the task with today's date. Running it twice on the same
// day leaves one notification per member.
func (d *DeadlineNotifier) Recompute(ctx context.Context, task store.Task) error {
	team, err := d.src.GetTeam(ctx, task.TeamID)
	if err != nil {
		return err
	}
	today := d.Today()
	daysLeft := d.DaysLeft(task.DueDate, today)

	var v Variant
	if daysLeft <= WarningWindow {
		v = Deadline{TaskID: task.ID, TaskName: task.Name, DaysLeft: daysLeft}
	}
	for _, userID := range team.MemberIDs {
		if _, err := d.store.Replace(ctx, userID, ForTask(store.KindDeadline, task.ID), v); err != nil {
			return fmt.Errorf("refresh deadline for %s: %w", userID, err)
		}
	}
	if err := d.src.SetDeadlineMarker(ctx, task.ID, today); err != nil {
		return err
	}
	return nil
}

// RecomputeTeam runs Recompute for every task of the team. With onlyDue set,
// tasks already recomputed today are skipped. It returns the number of tasks
// recomputed.
func (d *DeadlineNotifier) RecomputeTeam(ctx context.Context, teamID string, onlyDue bool) (int, error) {
	started := time.Now()
	defer func() { deadlineScanSeconds.Observe(time.Since(started).Seconds()) }()

	tasks, err := d.src.ListTasks(ctx, teamID)
	if err != nil {
		return 0, err
	}
	today := d.Today()
	count := 0
	for _, task := range tasks {
		if onlyDue && !Due(task, today) {
			continue
		}
		if err := d.Recompute(ctx, task); err != nil {
			return count, fmt.Errorf("recompute task %s: %w", task.ID, err)
		}
		count++
	}
	log.WithFields(log.Fields{
		"team_id":    teamID,
		"recomputed": count,
		"tasks":      len(tasks),
	}).Debug("deadline notifications recomputed")
	return count, nil
}
