package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/store"
)

type InviteStore interface {
	AddTeamMember(ctx context.Context, teamID, userID string) error
	// ReleaseInvitee removes userID from the invitees and deletes the invite
	// when none remain, as one atomic step. A user not on the invite is
	// store.ErrNotFound.
	ReleaseInvitee(ctx context.Context, inviteID, userID string) (remaining int, reclaimed bool, err error)
}

type InviteNotifier struct {
	store   *Store
	invites InviteStore
}

func NewInviteNotifier(s *Store, invites InviteStore) *InviteNotifier {
	return &InviteNotifier{store: s, invites: invites}
}

// Resolution is the outcome of one invitee answering an invite.
type Resolution struct {
	Accepted  bool
	Remaining int
	// Reclaimed is set when the last invitee answered and the invite was deleted.
	Reclaimed bool
}

func (i *InviteNotifier) OnInviteSent(ctx context.Context, invite store.Invite, team store.Team) ([]store.Notification, error) {
	created := make([]store.Notification, 0, len(invite.InviteeIDs))
	for _, userID := range invite.InviteeIDs {
		n, err := i.store.Add(ctx, userID, Invite{InviteID: invite.ID, TeamName: team.Name})
		if err != nil {
			return created, err
		}
		created = append(created, n)
	}
	return created, nil
}

func (i *InviteNotifier) OnInviteResolved(ctx context.Context, invite store.Invite, userID string, accepted bool) (Resolution, error) {
	invited := false
	for _, id := range invite.InviteeIDs {
		if id == userID {
			invited = true
			break
		}
	}
	if !invited {
		return Resolution{}, fmt.Errorf("user %s on invite %s: %w", userID, invite.ID, store.ErrNotFound)
	}

	// A repeated or concurrent answer by the same user fails here, before the
	// team is touched.
	remaining, reclaimed, err := i.invites.ReleaseInvitee(ctx, invite.ID, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("release invitee: %w", err)
	}
	res := Resolution{Accepted: accepted, Remaining: remaining, Reclaimed: reclaimed}
	if accepted {
		if err := i.invites.AddTeamMember(ctx, invite.TeamID, userID); err != nil {
			return Resolution{}, fmt.Errorf("join team: %w", err)
		}
	}
	if !reclaimed {
		if _, err := i.store.Replace(ctx, userID, ForInvite(invite.ID), nil); err != nil {
			return Resolution{}, err
		}
	}
	log.WithFields(log.Fields{
		"invite_id": invite.ID,
		"user_id":   userID,
		"accepted":  accepted,
		"reclaimed": res.Reclaimed,
	}).Info("invite resolved")
	return res, nil
}
