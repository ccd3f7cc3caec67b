package store

import "time"

type User struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

type Team struct {
	ID          string
	Name        string
	Description string
	CreatorID   string
	MemberIDs   []string
	CreatedAt   time.Time
}

func (t Team) HasMember(userID string) bool {
	for _, id := range t.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Lane is a column of a team's board. Position is unique per team.
type Lane struct {
	ID        string
	TeamID    string
	Name      string
	Position  int
	CreatedAt time.Time
}

func (l Lane) SlotID() string    { return l.ID }
func (l Lane) SlotPosition() int { return l.Position }

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Task struct {
	ID            string
	TeamID        string
	LaneID        string
	Name          string
	Description   string
	DueDate       time.Time
	Priority      Priority
	AssigneeIDs   []string
	DependencyIDs []string
	// DeadlineMarker is the date deadline notifications were last computed for.
	DeadlineMarker *time.Time
	CreatedAt      time.Time
}

type Invite struct {
	ID         string
	TeamID     string
	SenderID   string
	Message    string
	InviteeIDs []string
	CreatedAt  time.Time
}

type NotificationKind string

const (
	KindAssignment NotificationKind = "assignment"
	KindDeadline   NotificationKind = "deadline"
	KindInvite     NotificationKind = "invite"
)

// Notification is one entry of a user's feed. TaskID is set for assignment and
// deadline notifications, InviteID for invite notifications.
type Notification struct {
	ID        string
	UserID    string
	Kind      NotificationKind
	TaskID    string
	InviteID  string
	Message   string
	CreatedAt time.Time
	Seq       int64
}
