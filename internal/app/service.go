package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"kanban/api/internal/board"
	"kanban/api/internal/mailer"
	"kanban/api/internal/notify"
	"kanban/api/internal/ordering"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

// ErrInvalidDueDate is returned for due dates that are not in the future.
var ErrInvalidDueDate = errors.New("due date must be in the future")

type dataStore interface {
	board.Store
	notify.Persistence
	notify.DeadlineSource
	notify.InviteStore

	Ping(context.Context) error
	InsertUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)
	InsertTeam(context.Context, store.Team) error
	ListTeamIDs(context.Context) ([]string, error)
	InsertTask(context.Context, store.Task) error
	DeleteTask(context.Context, string) error
	AddTaskAssignees(context.Context, string, []string) ([]string, error)
	RemoveTaskAssignee(context.Context, string, string) (bool, error)
	SetTaskDueDate(context.Context, string, time.Time) error
	AddTaskDependency(context.Context, string, string) error
	ListDependencies(context.Context, string) (map[string][]string, error)
	InsertInvite(context.Context, store.Invite) error
	GetInvite(context.Context, string) (store.Invite, error)
}

type inviteMailer interface {
	IsConfigured() bool
	SendInvite(to string, data mailer.InviteData) error
}

type Options struct {
	// Location is the board's time zone for deadline arithmetic.
	Location *time.Location
	Now      func() time.Time
	Mailer   inviteMailer
}

type Service struct {
	store       dataStore
	board       *board.Service
	notes       *notify.Store
	assignments *notify.AssignmentNotifier
	deadlines   *notify.DeadlineNotifier
	invites     *notify.InviteNotifier
	mailer      inviteMailer
	validate    *validator.Validate
	recompute   singleflight.Group
	now         func() time.Time
}

func NewService(s dataStore, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notes := notify.NewStore(s, now)
	return &Service{
		store:       s,
		board:       board.NewService(s),
		notes:       notes,
		assignments: notify.NewAssignmentNotifier(notes),
		deadlines:   notify.NewDeadlineNotifier(notes, s, opts.Location, now),
		invites:     notify.NewInviteNotifier(notes, s),
		mailer:      opts.Mailer,
		validate:    validator.New(),
		now:         now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Board

type LaneView struct {
	Lane  store.Lane
	Tasks []store.Task
}

type BoardView struct {
	Team  store.Team
	Lanes []LaneView
}

// Board returns the team's lanes in order with their tasks, seeding the
// default lanes first if the team has none.
func (s *Service) Board(ctx context.Context, teamID string) (view BoardView, err error) {
	ctx, span := startSpan(ctx, "Board", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return BoardView{}, err
	}
	lanes, err := s.board.EnsureLanes(ctx, teamID)
	if err != nil {
		return BoardView{}, err
	}
	tasks, err := s.store.ListTasks(ctx, teamID)
	if err != nil {
		return BoardView{}, err
	}

	byLane := make(map[string][]store.Task, len(lanes))
	for _, task := range tasks {
		byLane[task.LaneID] = append(byLane[task.LaneID], task)
	}
	view = BoardView{Team: team, Lanes: make([]LaneView, 0, len(lanes))}
	for _, lane := range lanes {
		laneTasks := byLane[lane.ID]
		if laneTasks == nil {
			laneTasks = []store.Task{}
		}
		view.Lanes = append(view.Lanes, LaneView{Lane: lane, Tasks: laneTasks})
	}
	return view, nil
}

func (s *Service) MoveLane(ctx context.Context, laneID, direction string) (lane store.Lane, moved bool, err error) {
	ctx, span := startSpan(ctx, "MoveLane", attribute.String("lane.id", laneID), attribute.String("direction", direction))
	defer func() { endSpan(span, err) }()

	dir, err := ordering.ParseDirection(direction)
	if err != nil {
		return store.Lane{}, false, err
	}
	return s.board.MoveLane(ctx, laneID, dir)
}

func (s *Service) MoveTask(ctx context.Context, taskID, direction string) (task store.Task, moved bool, err error) {
	ctx, span := startSpan(ctx, "MoveTask", attribute.String("task.id", taskID), attribute.String("direction", direction))
	defer func() { endSpan(span, err) }()

	dir, err := ordering.ParseDirection(direction)
	if err != nil {
		return store.Task{}, false, err
	}
	return s.board.MoveTask(ctx, taskID, dir)
}

func (s *Service) AddLane(ctx context.Context, teamID string) (lane store.Lane, err error) {
	ctx, span := startSpan(ctx, "AddLane", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()
	return s.board.AddLane(ctx, teamID)
}

func (s *Service) RenameLane(ctx context.Context, laneID, name string) (lane store.Lane, err error) {
	ctx, span := startSpan(ctx, "RenameLane", attribute.String("lane.id", laneID))
	defer func() { endSpan(span, err) }()
	return s.board.RenameLane(ctx, laneID, name)
}

func (s *Service) DeleteLane(ctx context.Context, laneID string) (result board.DeleteResult, err error) {
	ctx, span := startSpan(ctx, "DeleteLane", attribute.String("lane.id", laneID))
	defer func() { endSpan(span, err) }()
	return s.board.DeleteLane(ctx, laneID)
}

// Tasks

type CreateTaskInput struct {
	Name        string    `json:"name" validate:"required,alphanum,min=3,max=30"`
	Description string    `json:"description" validate:"max=530"`
	DueDate     time.Time `json:"dueDate" validate:"required"`
	Priority    string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	// LaneID defaults to the first lane of the board.
	LaneID      string   `json:"laneId"`
	AssigneeIDs []string `json:"assigneeIds" validate:"omitempty,dive,required"`
}

func (s *Service) CreateTask(ctx context.Context, teamID string, input CreateTaskInput) (task store.Task, err error) {
	ctx, span := startSpan(ctx, "CreateTask", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	if err := s.validate.Struct(input); err != nil {
		return store.Task{}, validationError(err)
	}
	if !input.DueDate.After(s.now()) {
		return store.Task{}, ErrInvalidDueDate
	}
	if err := s.requireMembers(ctx, teamID, input.AssigneeIDs); err != nil {
		return store.Task{}, err
	}
	laneID := input.LaneID
	if laneID == "" {
		lanes, err := s.board.EnsureLanes(ctx, teamID)
		if err != nil {
			return store.Task{}, err
		}
		laneID = lanes[0].ID
	}
	priority := store.Priority(input.Priority)
	if priority == "" {
		priority = store.PriorityMedium
	}

	task = store.Task{
		ID:          util.NewID("task"),
		TeamID:      teamID,
		LaneID:      laneID,
		Name:        input.Name,
		Description: input.Description,
		DueDate:     input.DueDate.UTC(),
		Priority:    priority,
		AssigneeIDs: input.AssigneeIDs,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	task, err = s.store.GetTask(ctx, task.ID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.assignments.OnAssigned(ctx, task, task.AssigneeIDs); err != nil {
		return store.Task{}, err
	}
	if err := s.deadlines.Recompute(ctx, task); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, taskID string) (err error) {
	ctx, span := startSpan(ctx, "DeleteTask", attribute.String("task.id", taskID))
	defer func() { endSpan(span, err) }()
	return s.store.DeleteTask(ctx, taskID)
}

type AssignResult struct {
	Task          store.Task
	Added         []string
	Notifications []store.Notification
}

// AssignTask adds userIDs to the task's assignees. Only users the call newly
// adds are notified.
func (s *Service) AssignTask(ctx context.Context, taskID string, userIDs []string) (result AssignResult, err error) {
	ctx, span := startSpan(ctx, "AssignTask", attribute.String("task.id", taskID), attribute.Int("users", len(userIDs)))
	defer func() { endSpan(span, err) }()

	if err := s.validate.Var(userIDs, "required,min=1,dive,required"); err != nil {
		return AssignResult{}, validationError(err)
	}
	current, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return AssignResult{}, err
	}
	if err := s.requireMembers(ctx, current.TeamID, userIDs); err != nil {
		return AssignResult{}, err
	}
	added, err := s.store.AddTaskAssignees(ctx, taskID, userIDs)
	if err != nil {
		return AssignResult{}, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return AssignResult{}, err
	}
	created, err := s.assignments.OnAssigned(ctx, task, added)
	if err != nil {
		return AssignResult{}, err
	}
	return AssignResult{Task: task, Added: added, Notifications: created}, nil
}

// requireMembers rejects assignees outside the task's team; they would get the
// assignment but never its deadline warnings.
func (s *Service) requireMembers(ctx context.Context, teamID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	var outsiders []string
	for _, userID := range userIDs {
		if !team.HasMember(userID) {
			outsiders = append(outsiders, userID)
		}
	}
	if len(outsiders) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignees must be team members",
			map[string]any{"userIds": outsiders})
	}
	return nil
}

func (s *Service) UnassignTask(ctx context.Context, taskID, userID string) (removed bool, err error) {
	ctx, span := startSpan(ctx, "UnassignTask", attribute.String("task.id", taskID))
	defer func() { endSpan(span, err) }()

	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return false, err
	}
	return s.store.RemoveTaskAssignee(ctx, taskID, userID)
}

// SetTaskDueDate changes the due date and refreshes the task's deadline
// notifications right away.
func (s *Service) SetTaskDueDate(ctx context.Context, taskID string, due time.Time) (task store.Task, err error) {
	ctx, span := startSpan(ctx, "SetTaskDueDate", attribute.String("task.id", taskID))
	defer func() { endSpan(span, err) }()

	if !due.After(s.now()) {
		return store.Task{}, ErrInvalidDueDate
	}
	if err := s.store.SetTaskDueDate(ctx, taskID, due.UTC()); err != nil {
		return store.Task{}, err
	}
	task, err = s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.deadlines.Recompute(ctx, task); err != nil {
		return store.Task{}, err
	}
	return s.store.GetTask(ctx, taskID)
}

func (s *Service) AddDependency(ctx context.Context, taskID, dependsOnID string) (err error) {
	ctx, span := startSpan(ctx, "AddDependency", attribute.String("task.id", taskID), attribute.String("depends_on", dependsOnID))
	defer func() { endSpan(span, err) }()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	other, err := s.store.GetTask(ctx, dependsOnID)
	if err != nil {
		return err
	}
	if task.TeamID != other.TeamID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tasks belong to different teams", nil)
	}
	edges, err := s.store.ListDependencies(ctx, task.TeamID)
	if err != nil {
		return err
	}
	if err := board.CheckDependency(edges, taskID, dependsOnID); err != nil {
		return err
	}
	return s.store.AddTaskDependency(ctx, taskID, dependsOnID)
}

// Deadlines

// RecomputeDeadlines refreshes the deadline notifications of every task of
// the team. Concurrent calls for one team share a single run.
func (s *Service) RecomputeDeadlines(ctx context.Context, teamID string) (count int, err error) {
	ctx, span := startSpan(ctx, "RecomputeDeadlines", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return 0, err
	}
	v, err, _ := s.recompute.Do(teamID, func() (any, error) {
		return s.deadlines.RecomputeTeam(ctx, teamID, false)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ScanDeadlines is the periodic variant of RecomputeDeadlines: tasks already
// recomputed today are skipped.
func (s *Service) ScanDeadlines(ctx context.Context, teamID string) (count int, err error) {
	ctx, span := startSpan(ctx, "ScanDeadlines", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()
	return s.deadlines.RecomputeTeam(ctx, teamID, true)
}

func (s *Service) TeamIDs(ctx context.Context) ([]string, error) {
	return s.store.ListTeamIDs(ctx)
}

// Invites

type SendInviteInput struct {
	SenderID string   `json:"senderId"`
	UserIDs  []string `json:"userIds" validate:"required,min=1,dive,required"`
	Message  string   `json:"message" validate:"max=100"`
}

func (s *Service) SendInvite(ctx context.Context, teamID string, input SendInviteInput) (invite store.Invite, err error) {
	ctx, span := startSpan(ctx, "SendInvite", attribute.String("team.id", teamID), attribute.Int("users", len(input.UserIDs)))
	defer func() { endSpan(span, err) }()

	if err := s.validate.Struct(input); err != nil {
		return store.Invite{}, validationError(err)
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return store.Invite{}, err
	}

	invitees := make([]string, 0, len(input.UserIDs))
	for _, userID := range input.UserIDs {
		if !team.HasMember(userID) {
			invitees = append(invitees, userID)
		}
	}
	if len(invitees) == 0 {
		return store.Invite{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "all users are already team members", nil)
	}

	invite = store.Invite{
		ID:         util.NewID("invite"),
		TeamID:     teamID,
		SenderID:   input.SenderID,
		Message:    input.Message,
		InviteeIDs: invitees,
	}
	if err := s.store.InsertInvite(ctx, invite); err != nil {
		return store.Invite{}, err
	}
	invite, err = s.store.GetInvite(ctx, invite.ID)
	if err != nil {
		return store.Invite{}, err
	}
	if _, err := s.invites.OnInviteSent(ctx, invite, team); err != nil {
		return store.Invite{}, err
	}
	s.mailInvite(ctx, invite, team)
	return invite, nil
}

// mailInvite is best effort; failures are logged only.
func (s *Service) mailInvite(ctx context.Context, invite store.Invite, team store.Team) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	senderName := ""
	if invite.SenderID != "" {
		if sender, err := s.store.GetUser(ctx, invite.SenderID); err == nil {
			senderName = displayName(sender)
		}
	}
	for _, userID := range invite.InviteeIDs {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil || user.Email == "" {
			continue
		}
		err = s.mailer.SendInvite(user.Email, mailer.InviteData{
			TeamName:      team.Name,
			SenderName:    senderName,
			RecipientName: displayName(user),
			Message:       invite.Message,
		})
		if err != nil {
			log.WithFields(log.Fields{"invite_id": invite.ID, "user_id": userID, "error": err}).Warn("invite mail failed")
		}
	}
}

func displayName(u store.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func (s *Service) ResolveInvite(ctx context.Context, inviteID, userID string, accepted bool) (res notify.Resolution, err error) {
	ctx, span := startSpan(ctx, "ResolveInvite", attribute.String("invite.id", inviteID), attribute.Bool("accepted", accepted))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return notify.Resolution{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	invite, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return notify.Resolution{}, err
	}
	return s.invites.OnInviteResolved(ctx, invite, userID, accepted)
}

// Notifications

func (s *Service) Notifications(ctx context.Context, userID string) (items []store.Notification, err error) {
	ctx, span := startSpan(ctx, "Notifications", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.notes.List(ctx, userID)
}

// DeleteNotification reports whether the notification existed; deleting a
// missing one succeeds.
func (s *Service) DeleteNotification(ctx context.Context, notificationID string) (deleted bool, err error) {
	ctx, span := startSpan(ctx, "DeleteNotification", attribute.String("notification.id", notificationID))
	defer func() { endSpan(span, err) }()
	return s.notes.Remove(ctx, notificationID)
}

// SeedDemo creates two users and a team with the default lanes. It is used
// by the in-memory driver so a fresh process has something to show.
func (s *Service) SeedDemo(ctx context.Context) (store.Team, error) {
	users := []store.User{
		{ID: "user_ada", Username: "ada", DisplayName: "Ada", Email: "ada@example.com"},
		{ID: "user_grace", Username: "grace", DisplayName: "Grace", Email: "grace@example.com"},
	}
	for _, u := range users {
		if err := s.store.InsertUser(ctx, u); err != nil && !errors.Is(err, store.ErrConflict) {
			return store.Team{}, fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	team := store.Team{ID: "team_demo", Name: "demo", Description: "Demo board", CreatorID: "user_ada"}
	if err := s.store.InsertTeam(ctx, team); err != nil && !errors.Is(err, store.ErrConflict) {
		return store.Team{}, fmt.Errorf("seed team: %w", err)
	}
	if _, err := s.board.EnsureLanes(ctx, team.ID); err != nil {
		return store.Team{}, err
	}
	return s.store.GetTeam(ctx, team.ID)
}
