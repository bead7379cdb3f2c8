package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RoomKind string

const (
	KindGroup   RoomKind = "group"
	KindPrivate RoomKind = "private"
)

var privateRoomNamespace = uuid.MustParse("0b5c7f9e-3a64-4f0e-9a59-6f1f3f1d2c11")

// Room is the unit of consistency: a room and its whole message log commit together.
type Room struct {
	ID          string   `json:"id"`
	Kind        RoomKind `json:"kind"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	CommunityID string   `json:"community_id,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`

	Members UserSet `json:"members,omitempty"`
	Admins  UserSet `json:"admins,omitempty"`

	// Participants holds exactly two distinct users for private rooms.
	Participants UserSet `json:"participants,omitempty"`
	DeletedFor   UserSet `json:"deleted_for,omitempty"`

	Messages      MessageLog `json:"messages"`
	LastMessageAt time.Time  `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	Version       int64      `json:"version"`
}

func (r *Room) IsGroup() bool   { return r.Kind == KindGroup }
func (r *Room) IsPrivate() bool { return r.Kind == KindPrivate }

// Append adds a message to the log and advances lastMessageAt.
func (r *Room) Append(m Message) (*Message, error) {
	msg, err := r.Messages.Append(m)
	if err != nil {
		return nil, err
	}
	r.LastMessageAt = msg.SentAt
	return msg, nil
}

// Counterpart returns the other participant of a private room.
func (r *Room) Counterpart(userID string) string {
	for _, p := range r.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (r *Room) PairKey() string {
	if len(r.Participants) != 2 {
		return ""
	}
	return PairKey(r.Participants[0], r.Participants[1])
}

// HiddenFor returns users that must not see the given message: its tombstones
// plus, for private rooms, anyone who deleted the room.
func (r *Room) HiddenFor(m *Message) UserSet {
	hidden := r.DeletedFor.Clone()
	if m != nil {
		for _, u := range m.DeletedFor {
			hidden.Add(u)
		}
	}
	return hidden
}

// VisibleMessages returns copies of the messages the viewer may see, oldest first.
func (r *Room) VisibleMessages(viewer string) []Message {
	out := make([]Message, 0, r.Messages.Len())
	for _, m := range r.Messages.All() {
		if m.VisibleTo(viewer) {
			out = append(out, *m)
		}
	}
	return out
}

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// PrivateRoomID derives the stable room id for a participant pair.
func PrivateRoomID(a, b string) string {
	return uuid.NewSHA1(privateRoomNamespace, []byte(PairKey(a, b))).String()
}

func NewPrivateRoom(a, b string, now time.Time) *Room {
	return &Room{
		ID:           PrivateRoomID(a, b),
		Kind:         KindPrivate,
		Participants: NewUserSet(a, b),
		CreatedAt:    now,
	}
}
