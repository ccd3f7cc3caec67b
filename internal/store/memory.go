package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It mirrors the Postgres schema's
// uniqueness rules and cascades and is used for local runs and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	teams         map[string]Team
	lanes         map[string]Lane
	tasks         map[string]Task
	invites       map[string]Invite
	notifications map[string]Notification
	seq           int64

	locksMu   sync.Mutex
	teamLocks map[string]*sync.Mutex
	userLocks map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]User{},
		teams:         map[string]Team{},
		lanes:         map[string]Lane{},
		tasks:         map[string]Task{},
		invites:       map[string]Invite{},
		notifications: map[string]Notification{},
		teamLocks:     map[string]*sync.Mutex{},
		userLocks:     map[string]*sync.Mutex{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) teamLock(teamID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.teamLocks[teamID]
	if !ok {
		lock = &sync.Mutex{}
		s.teamLocks[teamID] = lock
	}
	return lock
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneTask(task Task) Task {
	task.AssigneeIDs = cloneStrings(task.AssigneeIDs)
	task.DependencyIDs = cloneStrings(task.DependencyIDs)
	if task.DeadlineMarker != nil {
		day := *task.DeadlineMarker
		task.DeadlineMarker = &day
	}
	return task
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func withoutString(values []string, value string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

// Users

func (s *MemoryStore) InsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("insert user: %w", ErrConflict)
	}
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return fmt.Errorf("insert user: %w", ErrConflict)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return user, nil
}

// Teams

func (s *MemoryStore) InsertTeam(_ context.Context, team Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[team.ID]; ok {
		return fmt.Errorf("insert team: %w", ErrConflict)
	}
	for _, existing := range s.teams {
		if existing.Name == team.Name {
			return fmt.Errorf("insert team: %w", ErrConflict)
		}
	}
	members := make([]string, 0, len(team.MemberIDs)+1)
	if team.CreatorID != "" {
		if _, ok := s.users[team.CreatorID]; !ok {
			return fmt.Errorf("insert team creator: %w", ErrNotFound)
		}
		members = append(members, team.CreatorID)
	}
	for _, userID := range team.MemberIDs {
		if _, ok := s.users[userID]; !ok {
			return fmt.Errorf("add team member: %w", ErrNotFound)
		}
		if !containsString(members, userID) {
			members = append(members, userID)
		}
	}
	team.MemberIDs = members
	if team.CreatedAt.IsZero() {
		team.CreatedAt = s.now()
	}
	s.teams[team.ID] = team
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, teamID string) (Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[teamID]
	if !ok {
		return Team{}, fmt.Errorf("get team: %w", ErrNotFound)
	}
	team.MemberIDs = cloneStrings(team.MemberIDs)
	return team, nil
}

func (s *MemoryStore) ListTeamIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	teams := make([]Team, 0, len(s.teams))
	for _, team := range s.teams {
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool {
		if !teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].CreatedAt.Before(teams[j].CreatedAt)
		}
		return teams[i].ID < teams[j].ID
	})
	ids := make([]string, 0, len(teams))
	for _, team := range teams {
		ids = append(ids, team.ID)
	}
	return ids, nil
}

func (s *MemoryStore) AddTeamMember(_ context.Context, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[teamID]
	if !ok {
		return fmt.Errorf("add team member: %w", ErrNotFound)
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("add team member: %w", ErrNotFound)
	}
	if team.HasMember(userID) {
		return nil
	}
	team.MemberIDs = append(cloneStrings(team.MemberIDs), userID)
	s.teams[teamID] = team
	return nil
}

// Board

// WithinTeam serializes board mutations of one team. Writes made through the
// BoardTx are undone when fn returns an error.
func (s *MemoryStore) WithinTeam(ctx context.Context, teamID string, fn func(BoardTx) error) error {
	lock := s.teamLock(teamID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, ok := s.teams[teamID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock team: %w", ErrNotFound)
	}

	tx := &memBoardTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// ListLanes waits for any in-flight board mutation of the team, so callers
// never see a staged position.
func (s *MemoryStore) ListLanes(ctx context.Context, teamID string) ([]Lane, error) {
	lock := s.teamLock(teamID)
	lock.Lock()
	defer lock.Unlock()
	return s.listLanes(teamID), nil
}

func (s *MemoryStore) GetLane(ctx context.Context, laneID string) (Lane, error) {
	s.mu.RLock()
	lane, ok := s.lanes[laneID]
	s.mu.RUnlock()
	if !ok {
		return Lane{}, fmt.Errorf("get lane: %w", ErrNotFound)
	}
	lock := s.teamLock(lane.TeamID)
	lock.Lock()
	defer lock.Unlock()
	return s.getLane(laneID)
}

func (s *MemoryStore) listLanes(teamID string) []Lane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lanes := make([]Lane, 0)
	for _, lane := range s.lanes {
		if lane.TeamID == teamID {
			lanes = append(lanes, lane)
		}
	}
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].Position < lanes[j].Position })
	return lanes
}

func (s *MemoryStore) getLane(laneID string) (Lane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lane, ok := s.lanes[laneID]
	if !ok {
		return Lane{}, fmt.Errorf("get lane: %w", ErrNotFound)
	}
	return lane, nil
}

// positionTaken reports whether another lane of the team holds position.
// Callers hold s.mu.
func (s *MemoryStore) positionTaken(teamID, laneID string, position int) bool {
	for _, lane := range s.lanes {
		if lane.TeamID == teamID && lane.ID != laneID && lane.Position == position {
			return true
		}
	}
	return false
}

// deleteTaskLocked removes a task and everything that references it.
// Callers hold s.mu.
func (s *MemoryStore) deleteTaskLocked(taskID string) {
	delete(s.tasks, taskID)
	for id, task := range s.tasks {
		if containsString(task.DependencyIDs, taskID) {
			task.DependencyIDs = withoutString(task.DependencyIDs, taskID)
			s.tasks[id] = task
		}
	}
	for id, n := range s.notifications {
		if n.TaskID == taskID {
			delete(s.notifications, id)
		}
	}
}

type memBoardTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memBoardTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memBoardTx) ListLanes(_ context.Context, teamID string) ([]Lane, error) {
	return t.s.listLanes(teamID), nil
}

func (t *memBoardTx) GetLane(_ context.Context, laneID string) (Lane, error) {
	return t.s.getLane(laneID)
}

func (t *memBoardTx) GetTask(ctx context.Context, taskID string) (Task, error) {
	return t.s.GetTask(ctx, taskID)
}

func (t *memBoardTx) InsertLane(_ context.Context, lane Lane) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[lane.TeamID]; !ok {
		return fmt.Errorf("insert lane: %w", ErrNotFound)
	}
	if _, ok := s.lanes[lane.ID]; ok {
		return fmt.Errorf("insert lane: %w", ErrConflict)
	}
	if s.positionTaken(lane.TeamID, lane.ID, lane.Position) {
		return fmt.Errorf("insert lane: %w", ErrPositionConflict)
	}
	if lane.CreatedAt.IsZero() {
		lane.CreatedAt = s.now()
	}
	s.lanes[lane.ID] = lane
	t.undo = append(t.undo, func() { delete(s.lanes, lane.ID) })
	return nil
}

func (t *memBoardTx) RenameLane(_ context.Context, laneID, name string) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[laneID]
	if !ok {
		return fmt.Errorf("rename lane: %w", ErrNotFound)
	}
	previous := lane
	lane.Name = name
	s.lanes[laneID] = lane
	t.undo = append(t.undo, func() { s.lanes[laneID] = previous })
	return nil
}

func (t *memBoardTx) SetLanePosition(_ context.Context, laneID string, position int) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[laneID]
	if !ok {
		return fmt.Errorf("set lane position: %w", ErrNotFound)
	}
	if s.positionTaken(lane.TeamID, laneID, position) {
		return fmt.Errorf("set lane position %d: %w", position, ErrPositionConflict)
	}
	previous := lane
	lane.Position = position
	s.lanes[laneID] = lane
	t.undo = append(t.undo, func() { s.lanes[laneID] = previous })
	return nil
}

func (t *memBoardTx) DeleteLane(_ context.Context, laneID string) (int, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[laneID]
	if !ok {
		return 0, fmt.Errorf("delete lane: %w", ErrNotFound)
	}

	// snapshot what the cascade may touch so it can be restored
	tasks := map[string]Task{}
	for id, task := range s.tasks {
		if task.TeamID == lane.TeamID {
			tasks[id] = cloneTask(task)
		}
	}
	notifications := map[string]Notification{}
	for id, n := range s.notifications {
		if _, ok := tasks[n.TaskID]; ok && n.TaskID != "" {
			notifications[id] = n
		}
	}

	removed := 0
	for id, task := range tasks {
		if task.LaneID == laneID {
			s.deleteTaskLocked(id)
			removed++
		}
	}
	delete(s.lanes, laneID)

	t.undo = append(t.undo, func() {
		s.lanes[laneID] = lane
		for id, task := range tasks {
			s.tasks[id] = task
		}
		for id, n := range notifications {
			s.notifications[id] = n
		}
	})
	return removed, nil
}

func (t *memBoardTx) SetTaskLane(_ context.Context, taskID, laneID string) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("set task lane: %w", ErrNotFound)
	}
	if _, ok := s.lanes[laneID]; !ok {
		return fmt.Errorf("set task lane: %w", ErrNotFound)
	}
	previous := task.LaneID
	task.LaneID = laneID
	s.tasks[taskID] = task
	t.undo = append(t.undo, func() {
		if current, ok := s.tasks[taskID]; ok {
			current.LaneID = previous
			s.tasks[taskID] = current
		}
	})
	return nil
}

// Tasks

func (s *MemoryStore) InsertTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[task.TeamID]; !ok {
		return fmt.Errorf("insert task: %w", ErrNotFound)
	}
	lane, ok := s.lanes[task.LaneID]
	if !ok || lane.TeamID != task.TeamID {
		return fmt.Errorf("lookup task lane: %w", ErrNotFound)
	}
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("insert task: %w", ErrConflict)
	}
	for _, existing := range s.tasks {
		if existing.TeamID == task.TeamID && existing.Name == task.Name {
			return fmt.Errorf("insert task: %w", ErrConflict)
		}
	}
	assignees := make([]string, 0, len(task.AssigneeIDs))
	for _, userID := range task.AssigneeIDs {
		if _, ok := s.users[userID]; !ok {
			return fmt.Errorf("insert task assignee: %w", ErrNotFound)
		}
		if !containsString(assignees, userID) {
			assignees = append(assignees, userID)
		}
	}
	task.AssigneeIDs = assignees
	task.DependencyIDs = nil
	task.DeadlineMarker = nil
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("get task: %w", ErrNotFound)
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, teamID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0)
	for _, task := range s.tasks {
		if task.TeamID == teamID {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("delete task: %w", ErrNotFound)
	}
	s.deleteTaskLocked(taskID)
	return nil
}

func (s *MemoryStore) AddTaskAssignees(_ context.Context, taskID string, userIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("assign task: %w", ErrNotFound)
	}
	for _, userID := range userIDs {
		if _, ok := s.users[userID]; !ok {
			return nil, fmt.Errorf("assign task: user %s: %w", userID, ErrNotFound)
		}
	}
	assignees := cloneStrings(task.AssigneeIDs)
	added := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if containsString(assignees, userID) {
			continue
		}
		assignees = append(assignees, userID)
		added = append(added, userID)
	}
	task.AssigneeIDs = assignees
	s.tasks[taskID] = task
	return added, nil
}

func (s *MemoryStore) RemoveTaskAssignee(_ context.Context, taskID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || !containsString(task.AssigneeIDs, userID) {
		return false, nil
	}
	task.AssigneeIDs = withoutString(task.AssigneeIDs, userID)
	s.tasks[taskID] = task
	return true, nil
}

func (s *MemoryStore) SetTaskDueDate(_ context.Context, taskID string, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("set due date: %w", ErrNotFound)
	}
	task.DueDate = due
	task.DeadlineMarker = nil
	s.tasks[taskID] = task
	return nil
}

func (s *MemoryStore) SetDeadlineMarker(_ context.Context, taskID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("set deadline marker: %w", ErrNotFound)
	}
	marker := civilDate(day)
	task.DeadlineMarker = &marker
	s.tasks[taskID] = task
	return nil
}

func (s *MemoryStore) AddTaskDependency(_ context.Context, taskID, dependsOnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("add dependency: %w", ErrNotFound)
	}
	if _, ok := s.tasks[dependsOnID]; !ok {
		return fmt.Errorf("add dependency: %w", ErrNotFound)
	}
	if taskID == dependsOnID {
		return fmt.Errorf("add dependency: %w", ErrConflict)
	}
	if containsString(task.DependencyIDs, dependsOnID) {
		return nil
	}
	task.DependencyIDs = append(cloneStrings(task.DependencyIDs), dependsOnID)
	sort.Strings(task.DependencyIDs)
	s.tasks[taskID] = task
	return nil
}

func (s *MemoryStore) ListDependencies(_ context.Context, teamID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := map[string][]string{}
	for id, task := range s.tasks {
		if task.TeamID == teamID && len(task.DependencyIDs) > 0 {
			edges[id] = cloneStrings(task.DependencyIDs)
		}
	}
	return edges, nil
}

// Invites

func (s *MemoryStore) InsertInvite(_ context.Context, invite Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[invite.TeamID]; !ok {
		return fmt.Errorf("insert invite: %w", ErrNotFound)
	}
	if _, ok := s.invites[invite.ID]; ok {
		return fmt.Errorf("insert invite: %w", ErrConflict)
	}
	invitees := make([]string, 0, len(invite.InviteeIDs))
	for _, userID := range invite.InviteeIDs {
		if _, ok := s.users[userID]; !ok {
			return fmt.Errorf("insert invite recipient: %w", ErrNotFound)
		}
		if !containsString(invitees, userID) {
			invitees = append(invitees, userID)
		}
	}
	sort.Strings(invitees)
	invite.InviteeIDs = invitees
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = s.now()
	}
	s.invites[invite.ID] = invite
	return nil
}

func (s *MemoryStore) GetInvite(_ context.Context, inviteID string) (Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invite, ok := s.invites[inviteID]
	if !ok {
		return Invite{}, fmt.Errorf("get invite: %w", ErrNotFound)
	}
	invite.InviteeIDs = cloneStrings(invite.InviteeIDs)
	return invite, nil
}

// ReleaseInvitee drops userID from the invite and deletes the invite, with
// its notifications, once nobody is left to answer it.
func (s *MemoryStore) ReleaseInvitee(_ context.Context, inviteID, userID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[inviteID]
	if !ok {
		return 0, false, fmt.Errorf("lock invite: %w", ErrNotFound)
	}
	if !containsString(invite.InviteeIDs, userID) {
		return 0, false, fmt.Errorf("remove invitee: %w", ErrNotFound)
	}
	invite.InviteeIDs = withoutString(invite.InviteeIDs, userID)
	if len(invite.InviteeIDs) > 0 {
		s.invites[inviteID] = invite
		return len(invite.InviteeIDs), false, nil
	}
	s.deleteInviteLocked(inviteID)
	return 0, true, nil
}

func (s *MemoryStore) DeleteInvite(_ context.Context, inviteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[inviteID]; !ok {
		return fmt.Errorf("delete invite: %w", ErrNotFound)
	}
	s.deleteInviteLocked(inviteID)
	return nil
}

func (s *MemoryStore) deleteInviteLocked(inviteID string) {
	delete(s.invites, inviteID)
	for id, n := range s.notifications {
		if n.InviteID == inviteID {
			delete(s.notifications, id)
		}
	}
}

// Notifications

// WithinUser serializes feed rewrites of one user. Writes made through the
// NotificationTx are undone when fn returns an error.
func (s *MemoryStore) WithinUser(ctx context.Context, userID string, fn func(NotificationTx) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock user: %w", ErrNotFound)
	}

	tx := &memFeedTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memFeedTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memFeedTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memFeedTx) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	saved, err := t.s.InsertNotification(ctx, n)
	if err != nil {
		return Notification{}, err
	}
	t.undo = append(t.undo, func() { delete(t.s.notifications, saved.ID) })
	return saved, nil
}

func (t *memFeedTx) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	return t.s.ListNotifications(ctx, userID)
}

func (t *memFeedTx) DeleteNotification(_ context.Context, notificationID string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n, ok := t.s.notifications[notificationID]
	if !ok {
		return false, nil
	}
	delete(t.s.notifications, notificationID)
	t.undo = append(t.undo, func() { t.s.notifications[notificationID] = n })
	return true, nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[n.UserID]; !ok {
		return Notification{}, fmt.Errorf("insert notification: %w", ErrNotFound)
	}
	if _, ok := s.notifications[n.ID]; ok {
		return Notification{}, fmt.Errorf("insert notification: %w", ErrConflict)
	}
	switch n.Kind {
	case KindAssignment, KindDeadline:
		if _, ok := s.tasks[n.TaskID]; !ok || n.InviteID != "" {
			return Notification{}, fmt.Errorf("insert notification: task %q: %w", n.TaskID, ErrNotFound)
		}
	case KindInvite:
		if _, ok := s.invites[n.InviteID]; !ok || n.TaskID != "" {
			return Notification{}, fmt.Errorf("insert notification: invite %q: %w", n.InviteID, ErrNotFound)
		}
	default:
		return Notification{}, fmt.Errorf("insert notification: unknown kind %q", n.Kind)
	}
	if n.Kind == KindDeadline {
		for _, existing := range s.notifications {
			if existing.Kind == KindDeadline && existing.UserID == n.UserID && existing.TaskID == n.TaskID {
				return Notification{}, fmt.Errorf("insert notification: deadline for task %s: %w", n.TaskID, ErrConflict)
			}
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.seq++
	n.Seq = s.seq
	s.notifications[n.ID] = n
	return n, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID {
			items = append(items, n)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].Seq > items[j].Seq
	})
	return items, nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, notificationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[notificationID]; !ok {
		return false, nil
	}
	delete(s.notifications, notificationID)
	return true, nil
}
