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
)

// SendMessage appends to an existing room. Group rooms require text content;
// private rooms accept media-only messages.
func (s *ChatService) SendMessage(ctx context.Context, caller, roomID string, in MessageInput) (msg *models.Message, err error) {
	defer func() { s.observe("send_message", err) }()
	if in, err = s.normalize(in); err != nil {
		return nil, err
	}
	_, err = s.mutate(ctx, roomID, func(room *models.Room) ([]ws.Event, error) {
		if !access.CanPost(caller, room) {
			return nil, fmt.Errorf("%w: cannot post to room %s", chaterr.ErrForbidden, room.ID)
		}
		if room.IsGroup() && in.Content == "" {
			return nil, fmt.Errorf("%w: group messages need content", chaterr.ErrInvalidInput)
		}
		if dup, ok := room.Messages.FindByClientID(caller, in.ClientMessageID); ok {
			msg = dup
			return nil, errNoChange
		}
		m, err := room.Append(s.newMessage(caller, in))
		if err != nil {
			return nil, err
		}
		restore(room)
		msg = m
		return []ws.Event{{Type: ws.EventMessageSent, Data: ws.MessagePayload{Message: m.View()}, HiddenFor: room.HiddenFor(m)}}, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ReplyToMessage appends a message carrying a snapshot of the original. The
// original is found regardless of the caller's tombstones.
func (s *ChatService) ReplyToMessage(ctx context.Context, caller, roomID, originalID string, in MessageInput) (msg *models.Message, err error) {
	defer func() { s.observe("reply_to_message", err) }()
	if err = requireID("message", originalID); err != nil {
		return nil, err
	}
	if in, err = s.normalize(in); err != nil {
		return nil, err
	}
	_, err = s.mutate(ctx, roomID, func(room *models.Room) ([]ws.Event, error) {
		if !access.CanPost(caller, room) {
			return nil, fmt.Errorf("%w: cannot post to room %s", chaterr.ErrForbidden, room.ID)
		}
		original, ok := room.Messages.Get(originalID)
		if !ok {
			return nil, fmt.Errorf("%w: message %s", chaterr.ErrNotFound, originalID)
		}
		if dup, ok := room.Messages.FindByClientID(caller, in.ClientMessageID); ok {
			msg = dup
			return nil, errNoChange
		}
		author, err := s.profile(ctx, original.Sender)
		if err != nil {
			return nil, err
		}

		reply := s.newMessage(caller, in)
		reply.ReplyTo = &models.ReplySnapshot{
			OriginalID: original.ID,
			Content:    original.Content,
			Sender: models.SenderSnapshot{
				ID:         original.Sender,
				Username:   author.Username,
				ProfilePic: author.ProfilePic,
			},
		}
		m, err := room.Append(reply)
		if err != nil {
			return nil, err
		}
		restore(room)
		msg = m
		return []ws.Event{{Type: ws.EventMessageReplied, Data: ws.MessagePayload{Message: m.View()}, HiddenFor: room.HiddenFor(m)}}, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

type ReactionResult struct {
	Action    models.ReactionAction `json:"action"`
	Reactions map[string]string     `json:"reactions"`
}

// ToggleReaction adds, replaces or removes the caller's single reaction.
func (s *ChatService) ToggleReaction(ctx context.Context, caller, roomID, messageID, emoji string) (res ReactionResult, err error) {
	defer func() { s.observe("toggle_reaction", err) }()
	if err = requireID("message", messageID); err != nil {
		return res, err
	}
	if strings.TrimSpace(emoji) == "" {
		return res, fmt.Errorf("%w: emoji is required", chaterr.ErrInvalidInput)
	}
	_, err = s.mutate(ctx, roomID, func(room *models.Room) ([]ws.Event, error) {
		m, err := s.target(caller, room, messageID)
		if err != nil {
			return nil, err
		}
		res.Action = m.React(caller, emoji)
		res.Reactions = m.View().Reactions
		return []ws.Event{{
			Type: ws.EventReactionChanged,
			Data: ws.ReactionPayload{
				MessageID: m.ID, UserID: caller, Emoji: emoji, Action: res.Action, Reactions: res.Reactions,
			},
			HiddenFor: room.HiddenFor(m),
		}}, nil
	})
	if err != nil {
		return ReactionResult{}, err
	}
	return res, nil
}

// MarkSeen records the caller in seenBy. Repeating it changes nothing.
func (s *ChatService) MarkSeen(ctx context.Context, caller, roomID, messageID string) (seenBy models.UserSet, err error) {
	defer func() { s.observe("mark_seen", err) }()
	if err = requireID("message", messageID); err != nil {
		return nil, err
	}
	_, err = s.mutate(ctx, roomID, func(room *models.Room) ([]ws.Event, error) {
		m, err := s.target(caller, room, messageID)
		if err != nil {
			return nil, err
		}
		added := m.MarkSeenBy(caller)
		seenBy = m.SeenBy.Clone()
		if !added {
			return nil, errNoChange
		}
		if room.IsGroup() {
			m.Seen = true
		}
		return []ws.Event{{
			Type:      ws.EventMessageSeen,
			Data:      ws.SeenPayload{MessageID: m.ID, UserID: caller, SeenBy: seenBy},
			HiddenFor: room.HiddenFor(m),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return seenBy, nil
}

// DeleteMessageForMe tombstones the message for the caller only.
func (s *ChatService) DeleteMessageForMe(ctx context.Context, caller, roomID, messageID string) (err error) {
	defer func() { s.observe("delete_message_for_me", err) }()
	if err = requireID("message", messageID); err != nil {
		return err
	}
	_, err = s.mutate(ctx, roomID, func(room *models.Room) ([]ws.Event, error) {
		m, err := s.target(caller, room, messageID)
		if err != nil {
			return nil, err
		}
		if !m.DeleteFor(caller) {
			return nil, errNoChange
		}
		return []ws.Event{{
			Type:     ws.EventMessageDeleted,
			Data:     ws.DeletedPayload{MessageID: m.ID, UserID: caller},
			Audience: models.NewUserSet(caller),
		}}, nil
	})
	return err
}

// target authorizes the caller on room and returns the addressed message.
func (s *ChatService) target(caller string, room *models.Room, messageID string) (*models.Message, error) {
	if !access.CanPost(caller, room) {
		return nil, fmt.Errorf("%w: not a member of room %s", chaterr.ErrForbidden, room.ID)
	}
	m, ok := room.Messages.Get(messageID)
	if !ok {
		return nil, fmt.Errorf("%w: message %s", chaterr.ErrNotFound, messageID)
	}
	return m, nil
}

// readRoom loads a committed snapshot the caller may read.
func (s *ChatService) readRoom(ctx context.Context, caller, roomID string) (*models.Room, error) {
	if err := requireID("room", roomID); err != nil {
		return nil, err
	}
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !access.CanReadRoom(caller, room) {
		return nil, fmt.Errorf("%w: cannot read room %s", chaterr.ErrForbidden, roomID)
	}
	return room, nil
}

// ListVisibleMessages returns the caller's view of the log in insertion order.
func (s *ChatService) ListVisibleMessages(ctx context.Context, caller, roomID string) ([]models.Message, error) {
	room, err := s.readRoom(ctx, caller, roomID)
	if err != nil {
		return nil, err
	}
	return room.VisibleMessages(caller), nil
}

func (s *ChatService) visibleMessage(ctx context.Context, caller, roomID, messageID string) (*models.Message, error) {
	if err := requireID("message", messageID); err != nil {
		return nil, err
	}
	room, err := s.readRoom(ctx, caller, roomID)
	if err != nil {
		return nil, err
	}
	m, ok := room.Messages.Get(messageID)
	if !ok || !m.VisibleTo(caller) {
		return nil, fmt.Errorf("%w: message %s", chaterr.ErrNotFound, messageID)
	}
	return m, nil
}

// GetSeenBy resolves the profiles of everyone who has seen the message.
func (s *ChatService) GetSeenBy(ctx context.Context, caller, roomID, messageID string) ([]models.Profile, error) {
	m, err := s.visibleMessage(ctx, caller, roomID, messageID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.ResolveProfiles(ctx, m.SeenBy)
	if err != nil {
		return nil, err
	}
	out := make([]models.Profile, 0, len(m.SeenBy))
	for _, id := range m.SeenBy {
		out = append(out, profiles[id])
	}
	return out, nil
}

func (s *ChatService) GetReactions(ctx context.Context, caller, roomID, messageID string) ([]models.ReactionView, error) {
	m, err := s.visibleMessage(ctx, caller, roomID, messageID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.Reactions))
	for id := range m.Reactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	profiles, err := s.ResolveProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.ReactionView, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.ReactionView{User: profiles[id], Emoji: m.Reactions[id]})
	}
	return out, nil
}

// AuthorizeSubscribe applies the read check to hub subscriptions.
func (s *ChatService) AuthorizeSubscribe(ctx context.Context, userID, roomID string) error {
	_, err := s.readRoom(ctx, userID, roomID)
	if err != nil && !errors.Is(err, chaterr.ErrForbidden) && !errors.Is(err, chaterr.ErrNotFound) {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("authorize subscribe")
	}
	return err
}
