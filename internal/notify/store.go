package notify

import (
	"context"
	"fmt"
	"time"

	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

// Persistence is the subset of the data store notifications live in.
// WithinUser must serialize callers for one user across every process sharing
// the data, and commit or discard the writes made through the tx together.
type Persistence interface {
	store.NotificationTx
	WithinUser(ctx context.Context, userID string, fn func(store.NotificationTx) error) error
}

// Store adds, finds and removes notifications.
type Store struct {
	db  Persistence
	now func() time.Time
}

func NewStore(db Persistence, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

func (s *Store) Add(ctx context.Context, userID string, v Variant) (store.Notification, error) {
	saved, err := s.insert(ctx, s.db, userID, v)
	if err != nil {
		return store.Notification{}, err
	}
	notificationsCreated.WithLabelValues(string(v.Kind())).Inc()
	return saved, nil
}

func (s *Store) insert(ctx context.Context, tx store.NotificationTx, userID string, v Variant) (store.Notification, error) {
	n := v.row()
	n.ID = util.NewID("ntf")
	n.UserID = userID
	n.CreatedAt = s.now().UTC()
	saved, err := tx.InsertNotification(ctx, n)
	if err != nil {
		return store.Notification{}, fmt.Errorf("add %s notification: %w", v.Kind(), err)
	}
	return saved, nil
}

// Find returns the user's notifications matching p, most recent first.
func (s *Store) Find(ctx context.Context, userID string, p Predicate) ([]store.Notification, error) {
	return find(ctx, s.db, userID, p)
}

func find(ctx context.Context, tx store.NotificationTx, userID string, p Predicate) ([]store.Notification, error) {
	items, err := tx.ListNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	matched := make([]store.Notification, 0, len(items))
	for _, n := range items {
		if p == nil || p(n) {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]store.Notification, error) {
	return s.Find(ctx, userID, nil)
}

// Remove deletes a notification by id. Removing a missing id is not an error;
// removed reports whether anything was deleted.
func (s *Store) Remove(ctx context.Context, notificationID string) (removed bool, err error) {
	removed, err = s.db.DeleteNotification(ctx, notificationID)
	if err != nil {
		return false, fmt.Errorf("remove notification: %w", err)
	}
	if removed {
		notificationsRemoved.WithLabelValues("unknown").Inc()
	}
	return removed, nil
}

// Replace removes every notification of the user matching p and, when v is
// not nil, adds v in their place. Both steps commit together.
func (s *Store) Replace(ctx context.Context, userID string, p Predicate, v Variant) (*store.Notification, error) {
	var (
		removed []store.NotificationKind
		saved   *store.Notification
	)
	err := s.db.WithinUser(ctx, userID, func(tx store.NotificationTx) error {
		removed, saved = nil, nil
		matched, err := find(ctx, tx, userID, p)
		if err != nil {
			return err
		}
		for _, n := range matched {
			ok, err := tx.DeleteNotification(ctx, n.ID)
			if err != nil {
				return fmt.Errorf("remove notification: %w", err)
			}
			if ok {
				removed = append(removed, n.Kind)
			}
		}
		if v == nil {
			return nil
		}
		n, err := s.insert(ctx, tx, userID, v)
		if err != nil {
			return err
		}
		saved = &n
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, kind := range removed {
		notificationsRemoved.WithLabelValues(string(kind)).Inc()
	}
	if saved != nil {
		notificationsCreated.WithLabelValues(string(saved.Kind)).Inc()
	}
	return saved, nil
}
