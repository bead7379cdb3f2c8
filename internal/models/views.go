package models

import "time"

// MessageView is the client projection of a message. Tombstones are never exposed.
type MessageView struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender"`
	Username  string            `json:"username,omitempty"`
	Content   string            `json:"content"`
	Media     []Media           `json:"media,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
	Seen      bool              `json:"seen,omitempty"`
	SeenBy    UserSet           `json:"seen_by"`
	Reactions map[string]string `json:"reactions,omitempty"`
	ReplyTo   *ReplySnapshot    `json:"reply_to,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
}

func (m *Message) View() MessageView {
	reactions := make(map[string]string, len(m.Reactions))
	for u, e := range m.Reactions {
		reactions[u] = e
	}
	return MessageView{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Media:     m.Media,
		SentAt:    m.SentAt,
		Seen:      m.Seen,
		SeenBy:    m.SeenBy.Clone(),
		Reactions: reactions,
		ReplyTo:   m.ReplyTo,
		ClientID:  m.ClientID,
	}
}

type RoomSummary struct {
	ID            string    `json:"id"`
	Kind          RoomKind  `json:"kind"`
	Name          string    `json:"name,omitempty"`
	Description   string    `json:"description,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	CommunityID   string    `json:"community_id,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	Members       UserSet   `json:"members,omitempty"`
	Admins        UserSet   `json:"admins,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	Online        int       `json:"online"`
}

func (r *Room) Summary() RoomSummary {
	return RoomSummary{
		ID:            r.ID,
		Kind:          r.Kind,
		Name:          r.Name,
		Description:   r.Description,
		Avatar:        r.Avatar,
		CommunityID:   r.CommunityID,
		CreatedBy:     r.CreatedBy,
		Members:       r.Members.Clone(),
		Admins:        r.Admins.Clone(),
		LastMessageAt: r.LastMessageAt,
		CreatedAt:     r.CreatedAt,
	}
}

// Conversation is a private room as listed for one participant.
type Conversation struct {
	RoomID        string    `json:"room_id"`
	Participant   Profile   `json:"participant"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type ReactionView struct {
	User  Profile `json:"user"`
	Emoji string  `json:"emoji"`
}
