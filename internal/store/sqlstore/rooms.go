package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
)

const (
	roleMember      = "member"
	roleAdmin       = "admin"
	roleParticipant = "participant"
	roleDeleted     = "deleted"

	markSeen    = "seen"
	markDeleted = "deleted"
)

func (s *SQLStore) CreateRoom(ctx context.Context, room *models.Room) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind(`INSERT INTO rooms (id, kind, name, description, avatar, community_id, created_by, pair_key, last_message_at, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`)
		_, err := tx.ExecContext(ctx, query,
			room.ID, string(room.Kind), room.Name, room.Description, room.Avatar, room.CommunityID, room.CreatedBy,
			nullString(room.PairKey()), nullTime(room), room.CreatedAt.UTC())
		if err != nil {
			return err
		}
		return s.writeChildren(ctx, tx, room)
	})
	if err != nil {
		return classify(err)
	}
	room.Version = 1
	return nil
}

func (s *SQLStore) SaveRoom(ctx context.Context, room *models.Room) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind(`UPDATE rooms SET name = ?, description = ?, avatar = ?, last_message_at = ?, version = version + 1
			WHERE id = ? AND version = ?`)
		result, err := tx.ExecContext(ctx, query, room.Name, room.Description, room.Avatar, nullTime(room), room.ID, room.Version)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.rebind("SELECT 1 FROM rooms WHERE id = ?"), room.ID).Scan(&exists)
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: room %s", chaterr.ErrNotFound, room.ID)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: room %s changed since version %d", chaterr.ErrConflict, room.ID, room.Version)
		}
		return s.writeChildren(ctx, tx, room)
	})
	if err != nil {
		return classify(err)
	}
	room.Version++
	return nil
}

func (s *SQLStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room *models.Room
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		room, err = s.loadRoom(ctx, tx, id)
		return err
	})
	return room, classify(err)
}

func (s *SQLStore) FindPrivateRoom(ctx context.Context, a, b string) (*models.Room, error) {
	var room *models.Room
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, s.rebind("SELECT id FROM rooms WHERE pair_key = ?"), models.PairKey(a, b)).Scan(&id)
		if err != nil {
			return err
		}
		room, err = s.loadRoom(ctx, tx, id)
		return err
	})
	return room, classify(err)
}

func (s *SQLStore) ListCommunityRooms(ctx context.Context, communityID string) ([]*models.Room, error) {
	return s.loadRooms(ctx, "SELECT id FROM rooms WHERE kind = ? AND community_id = ? ORDER BY created_at, id",
		string(models.KindGroup), communityID)
}

func (s *SQLStore) ListPrivateRooms(ctx context.Context, userID string) ([]*models.Room, error) {
	return s.loadRooms(ctx, `SELECT r.id FROM rooms r JOIN room_users u ON u.room_id = r.id
		WHERE r.kind = ? AND u.role = ? AND u.user_id = ? ORDER BY r.id`,
		string(models.KindPrivate), roleParticipant, userID)
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadRooms selects room ids and loads every aggregate inside one read transaction.
func (s *SQLStore) loadRooms(ctx context.Context, query string, args ...any) ([]*models.Room, error) {
	var rooms []*models.Room
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		ids, err := queryIDs(ctx, tx, s.rebind(query), args...)
		if err != nil {
			return err
		}
		rooms = make([]*models.Room, 0, len(ids))
		for _, id := range ids {
			room, err := s.loadRoom(ctx, tx, id)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return rooms, nil
}

// writeChildren replaces every child row of the room with the aggregate's current state.
func (s *SQLStore) writeChildren(ctx context.Context, q querier, room *models.Room) error {
	for _, table := range []string{"room_users", "message_users", "message_reactions"} {
		if _, err := q.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE room_id = ?"), room.ID); err != nil {
			return err
		}
	}

	insertUser := s.rebind("INSERT INTO room_users (room_id, user_id, role, pos) VALUES (?, ?, ?, ?)")
	for role, set := range map[string]models.UserSet{
		roleMember:      room.Members,
		roleAdmin:       room.Admins,
		roleParticipant: room.Participants,
		roleDeleted:     room.DeletedFor,
	} {
		for i, userID := range set {
			if _, err := q.ExecContext(ctx, insertUser, room.ID, userID, role, i); err != nil {
				return err
			}
		}
	}

	insertMessage := s.rebind(`INSERT INTO messages (room_id, id, pos, sender, content, media, sent_at, seen, client_id,
			reply_original_id, reply_content, reply_sender_id, reply_sender_username, reply_sender_profile_pic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id, id) DO UPDATE SET seen = excluded.seen`)
	insertMark := s.rebind("INSERT INTO message_users (room_id, message_id, user_id, kind, pos) VALUES (?, ?, ?, ?, ?)")
	insertReaction := s.rebind("INSERT INTO message_reactions (room_id, message_id, user_id, emoji) VALUES (?, ?, ?, ?)")

	for pos, m := range room.Messages.All() {
		media, err := json.Marshal(m.Media)
		if err != nil {
			return err
		}
		var reply [5]sql.NullString
		if m.ReplyTo != nil {
			reply = [5]sql.NullString{
				nullString(m.ReplyTo.OriginalID), {String: m.ReplyTo.Content, Valid: true},
				{String: m.ReplyTo.Sender.ID, Valid: true}, {String: m.ReplyTo.Sender.Username, Valid: true},
				{String: m.ReplyTo.Sender.ProfilePic, Valid: true},
			}
		}
		_, err = q.ExecContext(ctx, insertMessage, room.ID, m.ID, pos, m.Sender, m.Content, string(media), m.SentAt.UTC(), m.Seen, m.ClientID,
			reply[0], reply[1], reply[2], reply[3], reply[4])
		if err != nil {
			return err
		}

		for kind, set := range map[string]models.UserSet{markSeen: m.SeenBy, markDeleted: m.DeletedFor} {
			for i, userID := range set {
				if _, err := q.ExecContext(ctx, insertMark, room.ID, m.ID, userID, kind, i); err != nil {
					return err
				}
			}
		}
		for userID, emoji := range m.Reactions {
			if _, err := q.ExecContext(ctx, insertReaction, room.ID, m.ID, userID, emoji); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLStore) loadRoom(ctx context.Context, q querier, id string) (*models.Room, error) {
	var (
		room     models.Room
		kind     string
		lastSent sql.NullTime
	)
	err := q.QueryRowContext(ctx, s.rebind(`SELECT id, kind, name, description, avatar, community_id, created_by, last_message_at, created_at, version
		FROM rooms WHERE id = ?`), id).Scan(
		&room.ID, &kind, &room.Name, &room.Description, &room.Avatar, &room.CommunityID, &room.CreatedBy,
		&lastSent, &room.CreatedAt, &room.Version)
	if err != nil {
		return nil, err
	}
	room.Kind = models.RoomKind(kind)
	room.CreatedAt = room.CreatedAt.UTC()
	if lastSent.Valid {
		room.LastMessageAt = lastSent.Time.UTC()
	}

	if err := s.loadRoomUsers(ctx, q, &room); err != nil {
		return nil, err
	}
	messages, err := s.loadMessages(ctx, q, room.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if _, err := room.Messages.Append(*m); err != nil {
			return nil, err
		}
	}
	return &room, nil
}

type roomUser struct {
	userID string
	role   string
	pos    int
}

func (s *SQLStore) loadRoomUsers(ctx context.Context, q querier, room *models.Room) error {
	rows, err := q.QueryContext(ctx, s.rebind("SELECT user_id, role, pos FROM room_users WHERE room_id = ?"), room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var users []roomUser
	for rows.Next() {
		var u roomUser
		if err := rows.Scan(&u.userID, &u.role, &u.pos); err != nil {
			return err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	sort.SliceStable(users, func(i, j int) bool { return users[i].pos < users[j].pos })
	for _, u := range users {
		switch u.role {
		case roleMember:
			room.Members.Add(u.userID)
		case roleAdmin:
			room.Admins.Add(u.userID)
		case roleParticipant:
			room.Participants.Add(u.userID)
		case roleDeleted:
			room.DeletedFor.Add(u.userID)
		}
	}
	return nil
}

func (s *SQLStore) loadMessages(ctx context.Context, q querier, roomID string) ([]*models.Message, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`SELECT id, sender, content, media, sent_at, seen, client_id,
			reply_original_id, reply_content, reply_sender_id, reply_sender_username, reply_sender_profile_pic
		FROM messages WHERE room_id = ? ORDER BY pos`), roomID)
	if err != nil {
		return nil, err
	}

	var (
		messages []*models.Message
		byID     = make(map[string]*models.Message)
	)
	for rows.Next() {
		var (
			m     models.Message
			media string
			reply [5]sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &media, &m.SentAt, &m.Seen, &m.ClientID,
			&reply[0], &reply[1], &reply[2], &reply[3], &reply[4]); err != nil {
			rows.Close()
			return nil, err
		}
		m.SentAt = m.SentAt.UTC()
		if err := json.Unmarshal([]byte(media), &m.Media); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode media of message %s: %w", m.ID, err)
		}
		if reply[0].Valid {
			m.ReplyTo = &models.ReplySnapshot{
				OriginalID: reply[0].String,
				Content:    reply[1].String,
				Sender: models.SenderSnapshot{
					ID:         reply[2].String,
					Username:   reply[3].String,
					ProfilePic: reply[4].String,
				},
			}
		}
		messages = append(messages, &m)
		byID[m.ID] = &m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.loadMarks(ctx, q, roomID, byID); err != nil {
		return nil, err
	}
	if err := s.loadReactions(ctx, q, roomID, byID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLStore) loadMarks(ctx context.Context, q querier, roomID string, byID map[string]*models.Message) error {
	rows, err := q.QueryContext(ctx, s.rebind("SELECT message_id, user_id, kind FROM message_users WHERE room_id = ? ORDER BY pos"), roomID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID, kind string
		if err := rows.Scan(&messageID, &userID, &kind); err != nil {
			return err
		}
		m, ok := byID[messageID]
		if !ok {
			continue
		}
		switch kind {
		case markSeen:
			m.SeenBy.Add(userID)
		case markDeleted:
			m.DeletedFor.Add(userID)
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadReactions(ctx context.Context, q querier, roomID string, byID map[string]*models.Message) error {
	rows, err := q.QueryContext(ctx, s.rebind("SELECT message_id, user_id, emoji FROM message_reactions WHERE room_id = ?"), roomID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID, emoji string
		if err := rows.Scan(&messageID, &userID, &emoji); err != nil {
			return err
		}
		m, ok := byID[messageID]
		if !ok {
			continue
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string]string)
		}
		m.Reactions[userID] = emoji
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(room *models.Room) sql.NullTime {
	if room.LastMessageAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: room.LastMessageAt.UTC(), Valid: true}
}
