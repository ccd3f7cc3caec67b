package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newSeededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	for _, user := range []User{{ID: "u1", Username: "ada"}, {ID: "u2", Username: "grace"}} {
		if err := s.InsertUser(ctx, user); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	if err := s.InsertTeam(ctx, Team{ID: "t1", Name: "core", CreatorID: "u1"}); err != nil {
		t.Fatalf("insert team: %v", err)
	}
	err := s.WithinTeam(ctx, "t1", func(tx BoardTx) error {
		for i, id := range []string{"l1", "l2", "l3"} {
			if err := tx.InsertLane(ctx, Lane{ID: id, TeamID: "t1", Name: id, Position: i + 1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed lanes: %v", err)
	}
	return s
}

func TestMemoryStoreRejectsDuplicateLanePosition(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	err := s.WithinTeam(ctx, "t1", func(tx BoardTx) error {
		return tx.SetLanePosition(ctx, "l1", 3)
	})
	if !errors.Is(err, ErrPositionConflict) {
		t.Fatalf("expected ErrPositionConflict, got %v", err)
	}
}

func TestMemoryStoreRollsBackFailedBoardTx(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTeam(ctx, "t1", func(tx BoardTx) error {
		if err := tx.SetLanePosition(ctx, "l1", -1); err != nil {
			return err
		}
		if err := tx.RenameLane(ctx, "l2", "renamed"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	lanes, err := s.ListLanes(ctx, "t1")
	if err != nil {
		t.Fatalf("list lanes: %v", err)
	}
	if lanes[0].ID != "l1" || lanes[0].Position != 1 {
		t.Fatalf("lane l1 not restored: %+v", lanes[0])
	}
	if lanes[1].Name != "l2" {
		t.Fatalf("rename not undone: %+v", lanes[1])
	}
}

func TestMemoryStoreDeleteLaneCascades(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	for _, task := range []Task{
		{ID: "k1", TeamID: "t1", LaneID: "l2", Name: "one", DueDate: time.Now()},
		{ID: "k2", TeamID: "t1", LaneID: "l1", Name: "two", DueDate: time.Now()},
	} {
		if err := s.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert task: %v", err)
		}
	}
	if err := s.AddTaskDependency(ctx, "k2", "k1"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if _, err := s.InsertNotification(ctx, Notification{ID: "n1", UserID: "u1", Kind: KindAssignment, TaskID: "k1", Message: "x"}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	var removed int
	err := s.WithinTeam(ctx, "t1", func(tx BoardTx) error {
		var err error
		removed, err = tx.DeleteLane(ctx, "l2")
		return err
	})
	if err != nil {
		t.Fatalf("delete lane: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.GetTask(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected k1 deleted, got %v", err)
	}
	survivor, err := s.GetTask(ctx, "k2")
	if err != nil {
		t.Fatalf("get k2: %v", err)
	}
	if len(survivor.DependencyIDs) != 0 {
		t.Fatalf("dangling dependency: %v", survivor.DependencyIDs)
	}
	feed, _ := s.ListNotifications(ctx, "u1")
	if len(feed) != 0 {
		t.Fatalf("expected notifications cascaded, got %d", len(feed))
	}
}

func TestMemoryStoreTaskNameUniquePerTeam(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	task := Task{ID: "k1", TeamID: "t1", LaneID: "l1", Name: "dup", DueDate: time.Now()}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	task.ID = "k2"
	if err := s.InsertTask(ctx, task); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStoreAssigneesReportNewlyAdded(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	if err := s.InsertTask(ctx, Task{ID: "k1", TeamID: "t1", LaneID: "l1", Name: "one", DueDate: time.Now()}); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	added, err := s.AddTaskAssignees(ctx, "k1", []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("added = %v", added)
	}
	added, err = s.AddTaskAssignees(ctx, "k1", []string{"u1"})
	if err != nil {
		t.Fatalf("assign again: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("expected no new assignees, got %v", added)
	}

	ok, err := s.RemoveTaskAssignee(ctx, "k1", "u1")
	if err != nil || !ok {
		t.Fatalf("unassign: ok=%v err=%v", ok, err)
	}
	added, _ = s.AddTaskAssignees(ctx, "k1", []string{"u1"})
	if len(added) != 1 {
		t.Fatalf("expected u1 newly added after unassign, got %v", added)
	}
}

func TestMemoryStoreNotificationFeedOrder(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	if err := s.InsertTask(ctx, Task{ID: "k1", TeamID: "t1", LaneID: "l1", Name: "one", DueDate: time.Now()}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, n := range []Notification{
		{ID: "old", CreatedAt: at.Add(-time.Hour)},
		{ID: "first", CreatedAt: at},
		{ID: "second", CreatedAt: at},
	} {
		n.UserID, n.Kind, n.TaskID, n.Message = "u1", KindAssignment, "k1", "m"
		if _, err := s.InsertNotification(ctx, n); err != nil {
			t.Fatalf("insert %s: %v", n.ID, err)
		}
	}

	feed, err := s.ListNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	order := []string{feed[0].ID, feed[1].ID, feed[2].ID}
	want := []string{"second", "first", "old"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("feed order = %v, want %v", order, want)
		}
	}

	deleted, err := s.DeleteNotification(ctx, "missing")
	if err != nil || deleted {
		t.Fatalf("missing delete: deleted=%v err=%v", deleted, err)
	}
}

func TestMemoryStoreInviteLifecycle(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	if err := s.InsertInvite(ctx, Invite{ID: "i1", TeamID: "t1", SenderID: "u1", InviteeIDs: []string{"u2", "u1"}}); err != nil {
		t.Fatalf("insert invite: %v", err)
	}
	if _, err := s.InsertNotification(ctx, Notification{ID: "n1", UserID: "u2", Kind: KindInvite, InviteID: "i1", Message: "join?"}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	remaining, reclaimed, err := s.ReleaseInvitee(ctx, "i1", "u2")
	if err != nil || remaining != 1 || reclaimed {
		t.Fatalf("release invitee: remaining=%d reclaimed=%v err=%v", remaining, reclaimed, err)
	}
	if _, _, err := s.ReleaseInvitee(ctx, "i1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second release by the same user to be ErrNotFound, got %v", err)
	}
	remaining, reclaimed, err = s.ReleaseInvitee(ctx, "i1", "u1")
	if err != nil || remaining != 0 || !reclaimed {
		t.Fatalf("release last invitee: remaining=%d reclaimed=%v err=%v", remaining, reclaimed, err)
	}
	if _, err := s.GetInvite(ctx, "i1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected invite gone, got %v", err)
	}
	feed, _ := s.ListNotifications(ctx, "u2")
	if len(feed) != 0 {
		t.Fatalf("expected invite notifications cascaded, got %d", len(feed))
	}
}

func TestMemoryStoreReadersWaitForBoardTx(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	staged := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithinTeam(ctx, "t1", func(tx BoardTx) error {
			if err := tx.SetLanePosition(ctx, "l1", -1); err != nil {
				return err
			}
			close(staged)
			<-release
			return tx.SetLanePosition(ctx, "l1", 4)
		})
	}()

	<-staged
	done := make(chan []Lane)
	go func() {
		lanes, _ := s.ListLanes(ctx, "t1")
		done <- lanes
	}()
	close(release)
	lanes := <-done
	wg.Wait()

	for _, lane := range lanes {
		if lane.Position <= 0 {
			t.Fatalf("reader observed staged position: %+v", lane)
		}
	}
}

func TestMemoryStoreConcurrentInviteAnswersReclaimOnce(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	if err := s.InsertInvite(ctx, Invite{ID: "i1", TeamID: "t1", SenderID: "u1", InviteeIDs: []string{"u1", "u2"}}); err != nil {
		t.Fatalf("insert invite: %v", err)
	}

	var wg sync.WaitGroup
	reclaims := make(chan bool, 2)
	errs := make(chan error, 2)
	for _, userID := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, reclaimed, err := s.ReleaseInvitee(ctx, "i1", userID)
			errs <- err
			reclaims <- reclaimed
		}(userID)
	}
	wg.Wait()
	close(errs)
	close(reclaims)

	for err := range errs {
		if err != nil {
			t.Fatalf("release invitee: %v", err)
		}
	}
	count := 0
	for reclaimed := range reclaims {
		if reclaimed {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one reclaim, got %d", count)
	}
}

func TestMemoryStoreRejectsSecondDeadlineForTask(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	if err := s.InsertTask(ctx, Task{ID: "k1", TeamID: "t1", LaneID: "l1", Name: "ship", DueDate: time.Now().Add(48 * time.Hour)}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := s.InsertNotification(ctx, Notification{ID: "n1", UserID: "u1", Kind: KindDeadline, TaskID: "k1", Message: "soon"}); err != nil {
		t.Fatalf("insert deadline: %v", err)
	}
	if _, err := s.InsertNotification(ctx, Notification{ID: "n2", UserID: "u1", Kind: KindDeadline, TaskID: "k1", Message: "soon"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a second deadline, got %v", err)
	}
	if _, err := s.InsertNotification(ctx, Notification{ID: "n3", UserID: "u2", Kind: KindDeadline, TaskID: "k1", Message: "soon"}); err != nil {
		t.Fatalf("deadline for another user: %v", err)
	}
}

func TestMemoryStoreWithinUserRollsBack(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	if err := s.InsertTask(ctx, Task{ID: "k1", TeamID: "t1", LaneID: "l1", Name: "ship", DueDate: time.Now().Add(48 * time.Hour)}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := s.InsertNotification(ctx, Notification{ID: "n1", UserID: "u1", Kind: KindAssignment, TaskID: "k1", Message: "old"}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinUser(ctx, "u1", func(tx NotificationTx) error {
		if _, err := tx.DeleteNotification(ctx, "n1"); err != nil {
			return err
		}
		if _, err := tx.InsertNotification(ctx, Notification{ID: "n2", UserID: "u1", Kind: KindDeadline, TaskID: "k1", Message: "new"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	feed, _ := s.ListNotifications(ctx, "u1")
	if len(feed) != 1 || feed[0].ID != "n1" {
		t.Fatalf("expected the feed restored to n1, got %+v", feed)
	}

	if err := s.WithinUser(ctx, "missing", func(NotificationTx) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}
