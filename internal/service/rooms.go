package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arunpravin125/Eduvance-api/internal/access"
	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/samber/lo"
)

type CreateGroupRoomInput struct {
	CommunityID string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
}

// CreateGroupRoom copies the community's current members into a new room with
// the caller as its only admin.
func (s *ChatService) CreateGroupRoom(ctx context.Context, caller string, in CreateGroupRoomInput) (room *models.Room, err error) {
	defer func() { s.observe("create_group_room", err) }()
	if err := requireID("community", in.CommunityID); err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	community, err := s.communities.GetCommunity(sctx, in.CommunityID)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}
	if !access.CanCreateGroupRoom(caller, community) {
		if community.CreatedBy == caller {
			return nil, fmt.Errorf("%w: community %s has no members", chaterr.ErrInvalidState, community.ID)
		}
		return nil, fmt.Errorf("%w: only the community creator can create rooms", chaterr.ErrForbidden)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = community.Title + " Group Chat"
	}
	room = &models.Room{
		ID:          s.newID(),
		Kind:        models.KindGroup,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Avatar:      strings.TrimSpace(in.Avatar),
		CommunityID: community.ID,
		CreatedBy:   caller,
		Members:     community.Members.Clone(),
		Admins:      models.NewUserSet(caller),
		CreatedAt:   s.now(),
	}
	if err := s.commit(ctx, room, true); err != nil {
		return nil, err
	}
	return room, nil
}

// ListCommunityRooms lists the group rooms of a community the caller belongs to.
func (s *ChatService) ListCommunityRooms(ctx context.Context, caller, communityID string) ([]models.RoomSummary, error) {
	if err := requireID("community", communityID); err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	community, err := s.communities.GetCommunity(sctx, communityID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !access.CanViewCommunity(caller, community) {
		return nil, fmt.Errorf("%w: not a member of community %s", chaterr.ErrForbidden, communityID)
	}
	rooms, err := s.rooms.ListCommunityRooms(sctx, communityID)
	if err != nil {
		return nil, storeErr(err)
	}
	return lo.Map(rooms, func(r *models.Room, _ int) models.RoomSummary { return r.Summary() }), nil
}

// SendPrivateMessage sends to recipient, creating the pair's room on first use.
func (s *ChatService) SendPrivateMessage(ctx context.Context, caller, recipient string, in MessageInput) (room *models.Room, msg *models.Message, err error) {
	defer func() { s.observe("send_private_message", err) }()
	if err := requireID("recipient", recipient); err != nil {
		return nil, nil, err
	}
	if caller == recipient {
		return nil, nil, fmt.Errorf("%w: cannot message yourself", chaterr.ErrInvalidInput)
	}
	if in, err = s.normalize(in); err != nil {
		return nil, nil, err
	}
	if _, err := s.lookupUser(ctx, recipient); err != nil {
		return nil, nil, err
	}

	roomID := models.PrivateRoomID(caller, recipient)
	lctx, cancel := s.storeCtx(ctx)
	unlock, err := s.locks.lock(lctx, roomID)
	cancel()
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	sctx, cancel := s.storeCtx(ctx)
	room, err = s.rooms.FindPrivateRoom(sctx, caller, recipient)
	cancel()
	create := false
	switch {
	case errors.Is(err, chaterr.ErrNotFound):
		room, create = models.NewPrivateRoom(caller, recipient, s.now()), true
	case err != nil:
		return nil, nil, storeErr(err)
	}
	if !access.CanPostToPrivateRoom(caller, room) {
		return nil, nil, fmt.Errorf("%w: not a participant", chaterr.ErrForbidden)
	}
	if dup, ok := room.Messages.FindByClientID(caller, in.ClientMessageID); ok {
		return room, dup, nil
	}

	msg, err = room.Append(s.newMessage(caller, in))
	if err != nil {
		return nil, nil, err
	}
	restore(room)
	if err := s.commit(ctx, room, create); err != nil {
		return nil, nil, err
	}
	s.publish(room, []ws.Event{{Type: ws.EventMessageSent, Data: ws.MessagePayload{Message: msg.View()}, HiddenFor: room.HiddenFor(msg)}})
	return room, msg, nil
}

// DeleteRoomForMe hides a private room and its current history from the caller.
func (s *ChatService) DeleteRoomForMe(ctx context.Context, caller, roomID string) (err error) {
	defer func() { s.observe("delete_room_for_me", err) }()
	_, err = s.mutate(ctx, roomID, func(room *models.Room) ([]ws.Event, error) {
		if !room.IsPrivate() {
			return nil, fmt.Errorf("%w: only private rooms can be deleted for a viewer", chaterr.ErrInvalidState)
		}
		if !access.CanPostToPrivateRoom(caller, room) {
			return nil, fmt.Errorf("%w: not a participant", chaterr.ErrForbidden)
		}
		if !room.DeletedFor.Add(caller) {
			return nil, errNoChange
		}
		for _, m := range room.Messages.All() {
			m.DeleteFor(caller)
		}
		return []ws.Event{{
			Type:     ws.EventRoomDeleted,
			Data:     ws.DeletedPayload{UserID: caller},
			Audience: models.NewUserSet(caller),
		}}, nil
	})
	return err
}

// ListConversations returns the caller's visible private rooms, most recent first.
func (s *ChatService) ListConversations(ctx context.Context, caller string) ([]models.Conversation, error) {
	sctx, cancel := s.storeCtx(ctx)
	rooms, err := s.rooms.ListPrivateRooms(sctx, caller)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	out := make([]models.Conversation, 0, len(rooms))
	for _, r := range rooms {
		if !access.CanReadRoom(caller, r) {
			continue
		}
		p, err := s.profile(ctx, r.Counterpart(caller))
		if err != nil {
			return nil, err
		}
		out = append(out, models.Conversation{RoomID: r.ID, Participant: p, LastMessageAt: r.LastMessageAt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *ChatService) lookupUser(ctx context.Context, id string) (*models.User, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.users.GetUser(sctx, id)
	return u, storeErr(err)
}
