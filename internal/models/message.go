package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaFile  MediaType = "file"
)

type Media struct {
	URL  string    `json:"url" validate:"required"`
	Type MediaType `json:"type" validate:"required,oneof=image video audio file"`
}

// SenderSnapshot is the author of a replied-to message as it looked at reply time.
type SenderSnapshot struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}

type ReplySnapshot struct {
	OriginalID string         `json:"original_id"`
	Content    string         `json:"content"`
	Sender     SenderSnapshot `json:"sender"`
}

type ReactionAction string

const (
	ReactionAdded    ReactionAction = "added"
	ReactionReplaced ReactionAction = "replaced"
	ReactionRemoved  ReactionAction = "removed"
)

type Message struct {
	ID         string            `json:"id"`
	Sender     string            `json:"sender"`
	Content    string            `json:"content"`
	Media      []Media           `json:"media,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
	Seen       bool              `json:"seen,omitempty"`
	SeenBy     UserSet           `json:"seen_by"`
	Reactions  map[string]string `json:"reactions,omitempty"`
	ReplyTo    *ReplySnapshot    `json:"reply_to,omitempty"`
	DeletedFor UserSet           `json:"deleted_for"`
	ClientID   string            `json:"client_id,omitempty"`
}

func (m *Message) VisibleTo(userID string) bool {
	return !m.DeletedFor.Has(userID)
}

// React applies the add / replace / toggle-off rule for one user's reaction.
func (m *Message) React(userID, emoji string) ReactionAction {
	if m.Reactions == nil {
		m.Reactions = make(map[string]string)
	}
	prev, ok := m.Reactions[userID]
	switch {
	case !ok:
		m.Reactions[userID] = emoji
		return ReactionAdded
	case prev == emoji:
		delete(m.Reactions, userID)
		return ReactionRemoved
	default:
		m.Reactions[userID] = emoji
		return ReactionReplaced
	}
}

func (m *Message) MarkSeenBy(userID string) bool {
	return m.SeenBy.Add(userID)
}

func (m *Message) DeleteFor(userID string) bool {
	return m.DeletedFor.Add(userID)
}

// MessageLog stores messages in an arena keyed by id with an append-ordered index.
type MessageLog struct {
	entries []*Message
	index   map[string]int
}

func (l *MessageLog) Append(m Message) (*Message, error) {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if _, exists := l.index[m.ID]; exists {
		return nil, fmt.Errorf("%w: message %s already in log", chaterr.ErrConflict, m.ID)
	}
	msg := &m
	l.index[m.ID] = len(l.entries)
	l.entries = append(l.entries, msg)
	return msg, nil
}

func (l *MessageLog) Get(id string) (*Message, bool) {
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return l.entries[i], true
}

func (l *MessageLog) Len() int {
	return len(l.entries)
}

// All returns the messages in append order.
func (l *MessageLog) All() []*Message {
	out := make([]*Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// FindByClientID looks up a message by its sender-scoped deduplication token.
func (l *MessageLog) FindByClientID(sender, clientID string) (*Message, bool) {
	if clientID == "" {
		return nil, false
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if m := l.entries[i]; m.Sender == sender && m.ClientID == clientID {
			return m, true
		}
	}
	return nil, false
}

func (l MessageLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *MessageLog) UnmarshalJSON(data []byte) error {
	var entries []Message
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = MessageLog{}
	for _, m := range entries {
		if _, err := l.Append(m); err != nil {
			return err
		}
	}
	return nil
}
