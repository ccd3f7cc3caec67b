// Package board orders the lanes of a team and moves tasks between them.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/ordering"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

const (
	NewLaneName       = "New Lane"
	MaxLaneNameLength = 50
)

// DefaultLanes are seeded, in order, into a team that has no lanes.
var DefaultLanes = []string{"Backlog", "In Progress", "Complete"}

var (
	// ErrTeamMismatch means a task and its lane disagree on the team. The data
	// is left as is for an operator to inspect.
	ErrTeamMismatch = errors.New("task team does not match lane team")
	ErrInvalidName  = errors.New("lane name must be 1-50 characters")
)

type Store interface {
	WithinTeam(ctx context.Context, teamID string, fn func(store.BoardTx) error) error
	GetLane(ctx context.Context, laneID string) (store.Lane, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
}

type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// DeleteResult describes what a lane deletion removed.
type DeleteResult struct {
	Lane         store.Lane
	RemovedTasks int
	Reseeded     bool
}

func sequenceOf(ctx context.Context, tx store.BoardTx, teamID string) (ordering.Sequence[store.Lane], error) {
	lanes, err := tx.ListLanes(ctx, teamID)
	if err != nil {
		return ordering.Sequence[store.Lane]{}, err
	}
	seq, err := ordering.New(lanes)
	if err != nil {
		log.WithFields(log.Fields{"team_id": teamID, "error": err}).Error("lane positions are inconsistent")
		return ordering.Sequence[store.Lane]{}, err
	}
	return seq, nil
}

func lanePositioner(tx store.BoardTx) ordering.Positioner {
	return ordering.PositionerFunc(tx.SetLanePosition)
}

func seedDefaults(ctx context.Context, tx store.BoardTx, teamID string, seq ordering.Sequence[store.Lane]) error {
	return ordering.Reseed(ctx, seq, func(ctx context.Context, name string, position int) error {
		return tx.InsertLane(ctx, store.Lane{
			ID:       util.NewID("lane"),
			TeamID:   teamID,
			Name:     name,
			Position: position,
		})
	}, DefaultLanes...)
}

func (s *Service) MoveLaneLeft(ctx context.Context, laneID string) (store.Lane, bool, error) {
	return s.MoveLane(ctx, laneID, ordering.Left)
}

func (s *Service) MoveLaneRight(ctx context.Context, laneID string) (store.Lane, bool, error) {
	return s.MoveLane(ctx, laneID, ordering.Right)
}

// MoveLane swaps the lane with its neighbor in dir. At the edge of the board
// nothing changes and moved is false.
func (s *Service) MoveLane(ctx context.Context, laneID string, dir ordering.Direction) (lane store.Lane, moved bool, err error) {
	defer func() { laneMoves.WithLabelValues(moveResult(moved, err)).Inc() }()

	current, err := s.store.GetLane(ctx, laneID)
	if err != nil {
		return store.Lane{}, false, err
	}

	err = s.store.WithinTeam(ctx, current.TeamID, func(tx store.BoardTx) error {
		seq, err := sequenceOf(ctx, tx, current.TeamID)
		if err != nil {
			return err
		}
		idx := seq.Index(laneID)
		if idx < 0 {
			return fmt.Errorf("lane %s: %w", laneID, store.ErrNotFound)
		}
		lane = seq.Items()[idx]
		neighbor, ok := seq.Neighbor(laneID, dir)
		if !ok {
			return nil
		}
		if err := ordering.Swap(ctx, lanePositioner(tx), lane, neighbor); err != nil {
			return err
		}
		lane.Position = neighbor.Position
		moved = true
		return nil
	})
	if err != nil {
		return store.Lane{}, false, err
	}
	return lane, moved, nil
}

func (s *Service) MoveTaskLeft(ctx context.Context, taskID string) (store.Task, bool, error) {
	return s.MoveTask(ctx, taskID, ordering.Left)
}

func (s *Service) MoveTaskRight(ctx context.Context, taskID string) (store.Task, bool, error) {
	return s.MoveTask(ctx, taskID, ordering.Right)
}

// MoveTask re-points the task at the lane next to its current one.
func (s *Service) MoveTask(ctx context.Context, taskID string, dir ordering.Direction) (task store.Task, moved bool, err error) {
	defer func() { taskMoves.WithLabelValues(moveResult(moved, err)).Inc() }()

	current, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, false, err
	}

	err = s.store.WithinTeam(ctx, current.TeamID, func(tx store.BoardTx) error {
		fresh, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		task = fresh
		lane, err := tx.GetLane(ctx, task.LaneID)
		if err != nil {
			return err
		}
		if lane.TeamID != task.TeamID {
			log.WithFields(log.Fields{
				"task_id":   task.ID,
				"task_team": task.TeamID,
				"lane_id":   lane.ID,
				"lane_team": lane.TeamID,
			}).Error("task and lane belong to different teams")
			return fmt.Errorf("task %s: %w", task.ID, ErrTeamMismatch)
		}
		seq, err := sequenceOf(ctx, tx, task.TeamID)
		if err != nil {
			return err
		}
		neighbor, ok := seq.Neighbor(lane.ID, dir)
		if !ok {
			return nil
		}
		if err := tx.SetTaskLane(ctx, task.ID, neighbor.ID); err != nil {
			return err
		}
		task.LaneID = neighbor.ID
		moved = true
		return nil
	})
	if err != nil {
		return store.Task{}, false, err
	}
	return task, moved, nil
}

// AddLane appends a lane named "New Lane" after the last one.
func (s *Service) AddLane(ctx context.Context, teamID string) (store.Lane, error) {
	var lane store.Lane
	err := s.store.WithinTeam(ctx, teamID, func(tx store.BoardTx) error {
		seq, err := sequenceOf(ctx, tx, teamID)
		if err != nil {
			return err
		}
		lane = store.Lane{
			ID:       util.NewID("lane"),
			TeamID:   teamID,
			Name:     NewLaneName,
			Position: seq.NextPosition(),
		}
		return tx.InsertLane(ctx, lane)
	})
	if err != nil {
		return store.Lane{}, err
	}
	return lane, nil
}

func ValidateLaneName(name string) error {
	n := utf8.RuneCountInString(name)
	if strings.TrimSpace(name) == "" || n > MaxLaneNameLength {
		return ErrInvalidName
	}
	return nil
}

func (s *Service) RenameLane(ctx context.Context, laneID, name string) (store.Lane, error) {
	if err := ValidateLaneName(name); err != nil {
		return store.Lane{}, err
	}
	current, err := s.store.GetLane(ctx, laneID)
	if err != nil {
		return store.Lane{}, err
	}
	var lane store.Lane
	err = s.store.WithinTeam(ctx, current.TeamID, func(tx store.BoardTx) error {
		if err := tx.RenameLane(ctx, laneID, name); err != nil {
			return err
		}
		renamed, err := tx.GetLane(ctx, laneID)
		lane = renamed
		return err
	})
	if err != nil {
		return store.Lane{}, err
	}
	return lane, nil
}

// DeleteLane removes the lane with its tasks, closes the gap it leaves and
// reseeds the default lanes when it was the last one.
func (s *Service) DeleteLane(ctx context.Context, laneID string) (DeleteResult, error) {
	lane, err := s.store.GetLane(ctx, laneID)
	if err != nil {
		return DeleteResult{}, err
	}
	result := DeleteResult{Lane: lane}
	err = s.store.WithinTeam(ctx, lane.TeamID, func(tx store.BoardTx) error {
		removed, err := tx.DeleteLane(ctx, laneID)
		if err != nil {
			return err
		}
		result.RemovedTasks = removed

		seq, err := sequenceOf(ctx, tx, lane.TeamID)
		if err != nil {
			return err
		}
		if seq.Len() == 0 {
			result.Reseeded = true
			return seedDefaults(ctx, tx, lane.TeamID, seq)
		}
		_, err = ordering.Compact(ctx, lanePositioner(tx), seq)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	log.WithFields(log.Fields{
		"lane_id":       laneID,
		"team_id":       lane.TeamID,
		"removed_tasks": result.RemovedTasks,
		"reseeded":      result.Reseeded,
	}).Info("lane deleted")
	return result, nil
}

// EnsureLanes returns the team's lanes in order, seeding the defaults first
// when the team has none.
func (s *Service) EnsureLanes(ctx context.Context, teamID string) ([]store.Lane, error) {
	var lanes []store.Lane
	err := s.store.WithinTeam(ctx, teamID, func(tx store.BoardTx) error {
		seq, err := sequenceOf(ctx, tx, teamID)
		if err != nil {
			return err
		}
		if seq.Len() > 0 {
			lanes = seq.Items()
			return nil
		}
		if err := seedDefaults(ctx, tx, teamID, seq); err != nil {
			return err
		}
		lanes, err = tx.ListLanes(ctx, teamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lanes, nil
}
