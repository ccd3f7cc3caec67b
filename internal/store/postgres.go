package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == "lanes_team_position_key" {
				return fmt.Errorf("%s: %w", op, ErrPositionConflict)
			}
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func requireAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, email)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.DisplayName, user.Email)
	return mapError("insert user", err)
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, email, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, mapError("get user", err)
	}
	return user, nil
}

// Teams

func (s *PostgresStore) InsertTeam(ctx context.Context, team Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert team: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, description, creator_id)
		VALUES ($1, $2, $3, $4)
	`, team.ID, team.Name, team.Description, nullString(team.CreatorID)); err != nil {
		return mapError("insert team", err)
	}
	members := team.MemberIDs
	if team.CreatorID != "" && !team.HasMember(team.CreatorID) {
		members = append([]string{team.CreatorID}, members...)
	}
	for _, userID := range members {
		if err := addTeamMember(ctx, tx, team.ID, userID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	var creator sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, creator_id, created_at FROM teams WHERE id=$1
	`, teamID).Scan(&team.ID, &team.Name, &team.Description, &creator, &team.CreatedAt)
	if err != nil {
		return Team{}, mapError("get team", err)
	}
	team.CreatorID = creator.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM team_members WHERE team_id=$1 ORDER BY joined_at ASC, user_id ASC
	`, teamID)
	if err != nil {
		return Team{}, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return Team{}, fmt.Errorf("scan team member: %w", err)
		}
		team.MemberIDs = append(team.MemberIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return Team{}, fmt.Errorf("iterate team members: %w", err)
	}
	return team, nil
}

func (s *PostgresStore) ListTeamIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM teams ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID string) error {
	return addTeamMember(ctx, s.db, teamID, userID)
}

func addTeamMember(ctx context.Context, q querier, teamID, userID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID)
	return mapError("add team member", err)
}

// Board

// WithinTeam runs fn in one transaction that holds a row lock on the team, so
// board mutations of one team are serialized and their intermediate states are
// never visible to other transactions.
func (s *PostgresStore) WithinTeam(ctx context.Context, teamID string, fn func(BoardTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin board tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM teams WHERE id=$1 FOR UPDATE`, teamID).Scan(&locked); err != nil {
		return mapError("lock team", err)
	}
	if err := fn(&pgBoardTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit board tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLanes(ctx context.Context, teamID string) ([]Lane, error) {
	return listLanes(ctx, s.db, teamID)
}

func (s *PostgresStore) GetLane(ctx context.Context, laneID string) (Lane, error) {
	return getLane(ctx, s.db, laneID)
}

type pgBoardTx struct {
	tx *sql.Tx
}

func (t *pgBoardTx) ListLanes(ctx context.Context, teamID string) ([]Lane, error) {
	return listLanes(ctx, t.tx, teamID)
}

func (t *pgBoardTx) GetLane(ctx context.Context, laneID string) (Lane, error) {
	return getLane(ctx, t.tx, laneID)
}

func (t *pgBoardTx) GetTask(ctx context.Context, taskID string) (Task, error) {
	return getTask(ctx, t.tx, taskID)
}

func (t *pgBoardTx) InsertLane(ctx context.Context, lane Lane) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO lanes (id, team_id, name, position)
		VALUES ($1, $2, $3, $4)
	`, lane.ID, lane.TeamID, lane.Name, lane.Position)
	return mapError("insert lane", err)
}

func (t *pgBoardTx) RenameLane(ctx context.Context, laneID, name string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE lanes SET name=$2 WHERE id=$1`, laneID, name)
	if err != nil {
		return mapError("rename lane", err)
	}
	return requireAffected("rename lane", res)
}

func (t *pgBoardTx) SetLanePosition(ctx context.Context, laneID string, position int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE lanes SET position=$2 WHERE id=$1`, laneID, position)
	if err != nil {
		return mapError("set lane position", err)
	}
	return requireAffected("set lane position", res)
}

func (t *pgBoardTx) DeleteLane(ctx context.Context, laneID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE lane_id=$1`, laneID)
	if err != nil {
		return 0, mapError("delete lane tasks", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete lane tasks: %w", err)
	}
	res, err = t.tx.ExecContext(ctx, `DELETE FROM lanes WHERE id=$1`, laneID)
	if err != nil {
		return 0, mapError("delete lane", err)
	}
	if err := requireAffected("delete lane", res); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (t *pgBoardTx) SetTaskLane(ctx context.Context, taskID, laneID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE tasks SET lane_id=$2 WHERE id=$1`, taskID, laneID)
	if err != nil {
		return mapError("set task lane", err)
	}
	return requireAffected("set task lane", res)
}

func listLanes(ctx context.Context, q querier, teamID string) ([]Lane, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, team_id, name, position, created_at
		FROM lanes
		WHERE team_id=$1
		ORDER BY position ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	defer rows.Close()

	lanes := make([]Lane, 0)
	for rows.Next() {
		var lane Lane
		if err := rows.Scan(&lane.ID, &lane.TeamID, &lane.Name, &lane.Position, &lane.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lane: %w", err)
		}
		lanes = append(lanes, lane)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lanes: %w", err)
	}
	return lanes, nil
}

func getLane(ctx context.Context, q querier, laneID string) (Lane, error) {
	var lane Lane
	err := q.QueryRowContext(ctx, `
		SELECT id, team_id, name, position, created_at FROM lanes WHERE id=$1
	`, laneID).Scan(&lane.ID, &lane.TeamID, &lane.Name, &lane.Position, &lane.CreatedAt)
	if err != nil {
		return Lane{}, mapError("get lane", err)
	}
	return lane, nil
}

// Tasks

const taskColumns = `id, team_id, lane_id, name, description, due_date, priority, deadline_marker, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var priority string
	var marker sql.NullTime
	if err := row.Scan(&task.ID, &task.TeamID, &task.LaneID, &task.Name, &task.Description,
		&task.DueDate, &priority, &marker, &task.CreatedAt); err != nil {
		return Task{}, err
	}
	task.Priority = Priority(priority)
	if marker.Valid {
		day := civilDate(marker.Time)
		task.DeadlineMarker = &day
	}
	return task, nil
}

func getTask(ctx context.Context, q querier, taskID string) (Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, mapError("get task", err)
	}
	task.AssigneeIDs, err = listStrings(ctx, q, `
		SELECT user_id FROM task_assignees WHERE task_id=$1 ORDER BY assigned_at ASC, user_id ASC
	`, taskID)
	if err != nil {
		return Task{}, fmt.Errorf("list assignees: %w", err)
	}
	task.DependencyIDs, err = listStrings(ctx, q, `
		SELECT depends_on_id FROM task_dependencies WHERE task_id=$1 ORDER BY depends_on_id ASC
	`, taskID)
	if err != nil {
		return Task{}, fmt.Errorf("list dependencies: %w", err)
	}
	return task, nil
}

func listStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// the lane must belong to the task's team
	var laneTeam string
	if err := tx.QueryRowContext(ctx, `SELECT team_id FROM lanes WHERE id=$1`, task.LaneID).Scan(&laneTeam); err != nil {
		return mapError("lookup task lane", err)
	}
	if laneTeam != task.TeamID {
		return fmt.Errorf("insert task: lane %s belongs to team %s: %w", task.LaneID, laneTeam, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, team_id, lane_id, name, description, due_date, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.TeamID, task.LaneID, task.Name, task.Description, task.DueDate, string(task.Priority)); err != nil {
		return mapError("insert task", err)
	}
	for _, userID := range task.AssigneeIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2)
			ON CONFLICT (task_id, user_id) DO NOTHING
		`, task.ID, userID); err != nil {
			return mapError("insert task assignee", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	return getTask(ctx, s.db, taskID)
}

func (s *PostgresStore) ListTasks(ctx context.Context, teamID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE team_id=$1
		ORDER BY created_at ASC, id ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	index := map[string]int{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		index[task.ID] = len(tasks)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	pairs, err := s.db.QueryContext(ctx, `
		SELECT ta.task_id, ta.user_id
		FROM task_assignees ta
		JOIN tasks t ON t.id = ta.task_id
		WHERE t.team_id=$1
		ORDER BY ta.assigned_at ASC, ta.user_id ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team assignees: %w", err)
	}
	defer pairs.Close()
	for pairs.Next() {
		var taskID, userID string
		if err := pairs.Scan(&taskID, &userID); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		if i, ok := index[taskID]; ok {
			tasks[i].AssigneeIDs = append(tasks[i].AssigneeIDs, userID)
		}
	}
	if err := pairs.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignees: %w", err)
	}

	edges, err := s.ListDependencies(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for taskID, deps := range edges {
		if i, ok := index[taskID]; ok {
			tasks[i].DependencyIDs = deps
		}
	}
	return tasks, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return mapError("delete task", err)
	}
	return requireAffected("delete task", res)
}

// AddTaskAssignees assigns userIDs to the task and returns the ones that were
// not already assigned.
func (s *PostgresStore) AddTaskAssignees(ctx context.Context, taskID string, userIDs []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		var inserted string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2)
			ON CONFLICT (task_id, user_id) DO NOTHING
			RETURNING user_id
		`, taskID, userID).Scan(&inserted)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, mapError("assign task", err)
		}
		added = append(added, inserted)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign: %w", err)
	}
	return added, nil
}

func (s *PostgresStore) RemoveTaskAssignee(ctx context.Context, taskID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=$1 AND user_id=$2`, taskID, userID)
	if err != nil {
		return false, mapError("unassign task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unassign task: %w", err)
	}
	return n > 0, nil
}

// SetTaskDueDate changes the due date and clears the deadline marker.
func (s *PostgresStore) SetTaskDueDate(ctx context.Context, taskID string, due time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET due_date=$2, deadline_marker=NULL WHERE id=$1`, taskID, due)
	if err != nil {
		return mapError("set due date", err)
	}
	return requireAffected("set due date", res)
}

func (s *PostgresStore) SetDeadlineMarker(ctx context.Context, taskID string, day time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET deadline_marker=$2 WHERE id=$1`, taskID, civilDate(day))
	if err != nil {
		return mapError("set deadline marker", err)
	}
	return requireAffected("set deadline marker", res)
}

func (s *PostgresStore) AddTaskDependency(ctx context.Context, taskID, dependsOnID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_id) VALUES ($1, $2)
		ON CONFLICT (task_id, depends_on_id) DO NOTHING
	`, taskID, dependsOnID)
	return mapError("add dependency", err)
}

// ListDependencies returns the dependency edges of a team keyed by task.
func (s *PostgresStore) ListDependencies(ctx context.Context, teamID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.task_id, d.depends_on_id
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.task_id
		WHERE t.team_id=$1
		ORDER BY d.task_id ASC, d.depends_on_id ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	edges := map[string][]string{}
	for rows.Next() {
		var taskID, dependsOn string
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		edges[taskID] = append(edges[taskID], dependsOn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return edges, nil
}

// Invites

func (s *PostgresStore) InsertInvite(ctx context.Context, invite Invite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert invite: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO invites (id, team_id, sender_id, message)
		VALUES ($1, $2, $3, $4)
	`, invite.ID, invite.TeamID, nullString(invite.SenderID), invite.Message); err != nil {
		return mapError("insert invite", err)
	}
	for _, userID := range invite.InviteeIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invite_recipients (invite_id, user_id) VALUES ($1, $2)
			ON CONFLICT (invite_id, user_id) DO NOTHING
		`, invite.ID, userID); err != nil {
			return mapError("insert invite recipient", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (Invite, error) {
	var invite Invite
	var sender sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, sender_id, message, created_at FROM invites WHERE id=$1
	`, inviteID).Scan(&invite.ID, &invite.TeamID, &sender, &invite.Message, &invite.CreatedAt)
	if err != nil {
		return Invite{}, mapError("get invite", err)
	}
	invite.SenderID = sender.String
	invite.InviteeIDs, err = listStrings(ctx, s.db, `
		SELECT user_id FROM invite_recipients WHERE invite_id=$1 ORDER BY user_id ASC
	`, inviteID)
	if err != nil {
		return Invite{}, fmt.Errorf("list invite recipients: %w", err)
	}
	return invite, nil
}

// ReleaseInvitee drops userID from the invite and deletes the invite once
// nobody is left to answer it. The invite row is locked for the whole step so
// concurrent answers see each other's removals and exactly one reclaims.
func (s *PostgresStore) ReleaseInvitee(ctx context.Context, inviteID, userID string) (remaining int, reclaimed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin invite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM invites WHERE id=$1 FOR UPDATE`, inviteID).Scan(&locked); err != nil {
		return 0, false, mapError("lock invite", err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM invite_recipients WHERE invite_id=$1 AND user_id=$2
	`, inviteID, userID)
	if err != nil {
		return 0, false, mapError("remove invitee", err)
	}
	if err := requireAffected("remove invitee", res); err != nil {
		return 0, false, err
	}
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invite_recipients WHERE invite_id=$1
	`, inviteID).Scan(&remaining); err != nil {
		return 0, false, fmt.Errorf("count invitees: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE id=$1`, inviteID); err != nil {
			return 0, false, mapError("reclaim invite", err)
		}
		reclaimed = true
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit invite tx: %w", err)
	}
	return remaining, reclaimed, nil
}

func (s *PostgresStore) DeleteInvite(ctx context.Context, inviteID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invites WHERE id=$1`, inviteID)
	if err != nil {
		return mapError("delete invite", err)
	}
	return requireAffected("delete invite", res)
}

// Notifications

// WithinUser runs fn in one transaction that holds a lock on the user's row,
// so feed rewrites of one user are serialized across processes. NO KEY UPDATE
// leaves foreign-key inserts that reference the user unblocked.
func (s *PostgresStore) WithinUser(ctx context.Context, userID string, fn func(NotificationTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id=$1 FOR NO KEY UPDATE`, userID).Scan(&locked); err != nil {
		return mapError("lock user", err)
	}
	if err := fn(pgFeed{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit feed tx: %w", err)
	}
	return nil
}

// pgFeed runs the notification queries against either the pool or a tx.
type pgFeed struct {
	q querier
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	return pgFeed{q: s.db}.InsertNotification(ctx, n)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	return pgFeed{q: s.db}.ListNotifications(ctx, userID)
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, notificationID string) (bool, error) {
	return pgFeed{q: s.db}.DeleteNotification(ctx, notificationID)
}

func (f pgFeed) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	err := f.q.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, task_id, invite_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, n.ID, n.UserID, string(n.Kind), nullString(n.TaskID), nullString(n.InviteID), n.Message, n.CreatedAt).Scan(&n.Seq)
	if err != nil {
		return Notification{}, mapError("insert notification", err)
	}
	return n, nil
}

// ListNotifications returns the user's feed, most recent first.
func (f pgFeed) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := f.q.QueryContext(ctx, `
		SELECT id, user_id, kind, task_id, invite_id, message, created_at, seq
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC, seq DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		var kind string
		var taskID, inviteID sql.NullString
		if err := rows.Scan(&item.ID, &item.UserID, &kind, &taskID, &inviteID, &item.Message, &item.CreatedAt, &item.Seq); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.Kind = NotificationKind(kind)
		item.TaskID = taskID.String
		item.InviteID = inviteID.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// DeleteNotification reports whether a row was removed; a missing id is not an error.
func (f pgFeed) DeleteNotification(ctx context.Context, notificationID string) (bool, error) {
	res, err := f.q.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1`, notificationID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	return n > 0, nil
}
