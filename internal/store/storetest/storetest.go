// Package storetest is a conformance suite every store.Store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Users", testUsers},
		{"Communities", testCommunities},
		{"GroupRoomRoundTrip", testGroupRoomRoundTrip},
		{"PrivateRoomByPair", testPrivateRoomByPair},
		{"SaveRoomVersioning", testSaveRoomVersioning},
		{"ListRooms", testListRooms},
		{"CanceledContext", testCanceledContext},
		{"ReadsSeeWholeCommits", testReadsSeeWholeCommits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := &models.User{Username: "alice", Password: "hash", ProfilePic: "a.png"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NotEmpty(t, alice.ID)

	err := s.CreateUser(ctx, &models.User{Username: "alice", Password: "x"})
	require.ErrorIs(t, err, chaterr.ErrConflict)

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "hash", got.Password)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice.ID, byName.ID)

	_, err = s.GetUser(ctx, "missing")
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	require.NoError(t, s.UpdateUser(ctx, &models.User{ID: alice.ID, Username: "alice2", ProfilePic: "b.png"}))
	got, err = s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice2", got.Username)
	require.Equal(t, "b.png", got.ProfilePic)

	err = s.UpdateUser(ctx, &models.User{ID: "missing", Username: "nobody"})
	require.ErrorIs(t, err, chaterr.ErrNotFound)
}

func testCommunities(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := &models.Community{Title: "Go", CreatedBy: "owner", Members: models.NewUserSet("owner", "m1", "m2")}
	require.NoError(t, s.CreateCommunity(ctx, c))

	got, err := s.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "Go", got.Title)
	require.Equal(t, "owner", got.CreatedBy)
	require.Equal(t, models.UserSet{"owner", "m1", "m2"}, got.Members)

	_, err = s.GetCommunity(ctx, "missing")
	require.ErrorIs(t, err, chaterr.ErrNotFound)
}

func groupRoom(id, community string) *models.Room {
	return &models.Room{
		ID:          id,
		Kind:        models.KindGroup,
		Name:        "General",
		CommunityID: community,
		CreatedBy:   "owner",
		Members:     models.NewUserSet("owner", "m1"),
		Admins:      models.NewUserSet("owner"),
		CreatedAt:   base,
	}
}

func testGroupRoomRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := groupRoom("g1", "c1")
	first, err := room.Append(models.Message{
		ID: "m1", Sender: "owner", Content: "hello", SentAt: base.Add(time.Second),
		Media: []models.Media{{URL: "https://x/y.png", Type: models.MediaImage}},
	})
	require.NoError(t, err)
	first.SeenBy.Add("m1")
	first.Seen = true
	first.React("m1", "👍")
	first.DeleteFor("owner")

	_, err = room.Append(models.Message{
		ID: "m2", Sender: "m1", Content: "hi back", SentAt: base.Add(2 * time.Second), ClientID: "tok-1",
		ReplyTo: &models.ReplySnapshot{
			OriginalID: "m1", Content: "hello",
			Sender: models.SenderSnapshot{ID: "owner", Username: "Owner", ProfilePic: "o.png"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateRoom(ctx, room))
	require.EqualValues(t, 1, room.Version)

	got, err := s.GetRoom(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, models.KindGroup, got.Kind)
	require.Equal(t, "General", got.Name)
	require.Equal(t, models.UserSet{"owner", "m1"}, got.Members)
	require.Equal(t, models.UserSet{"owner"}, got.Admins)
	require.True(t, got.CreatedAt.Equal(base))
	require.True(t, got.LastMessageAt.Equal(base.Add(2*time.Second)))
	require.EqualValues(t, 1, got.Version)
	require.Equal(t, 2, got.Messages.Len())

	m1, ok := got.Messages.Get("m1")
	require.True(t, ok)
	require.Equal(t, "hello", m1.Content)
	require.True(t, m1.Seen)
	require.Equal(t, models.UserSet{"m1"}, m1.SeenBy)
	require.Equal(t, map[string]string{"m1": "👍"}, m1.Reactions)
	require.Equal(t, models.UserSet{"owner"}, m1.DeletedFor)
	require.Equal(t, []models.Media{{URL: "https://x/y.png", Type: models.MediaImage}}, m1.Media)

	m2, ok := got.Messages.Get("m2")
	require.True(t, ok)
	require.Equal(t, "tok-1", m2.ClientID)
	require.NotNil(t, m2.ReplyTo)
	require.Equal(t, "m1", m2.ReplyTo.OriginalID)
	require.Equal(t, "Owner", m2.ReplyTo.Sender.Username)

	all := got.Messages.All()
	require.Equal(t, "m1", all[0].ID)
	require.Equal(t, "m2", all[1].ID)

	require.ErrorIs(t, s.CreateRoom(ctx, groupRoom("g1", "c1")), chaterr.ErrConflict)

	_, err = s.GetRoom(ctx, "missing")
	require.ErrorIs(t, err, chaterr.ErrNotFound)
}

func testPrivateRoomByPair(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := models.NewPrivateRoom("a", "b", base)
	_, err := room.Append(models.Message{ID: "p1", Sender: "a", Content: "hey", SentAt: base})
	require.NoError(t, err)
	require.NoError(t, s.CreateRoom(ctx, room))

	got, err := s.FindPrivateRoom(ctx, "b", "a")
	require.NoError(t, err)
	require.Equal(t, room.ID, got.ID)
	require.Equal(t, models.UserSet{"a", "b"}, got.Participants)

	_, err = s.FindPrivateRoom(ctx, "a", "c")
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	dup := models.NewPrivateRoom("b", "a", base)
	require.ErrorIs(t, s.CreateRoom(ctx, dup), chaterr.ErrConflict)
}

func testSaveRoomVersioning(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := models.NewPrivateRoom("a", "b", base)
	require.NoError(t, s.CreateRoom(ctx, room))

	loaded, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	stale, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)

	_, err = loaded.Append(models.Message{ID: "p1", Sender: "a", Content: "one", SentAt: base.Add(time.Minute)})
	require.NoError(t, err)
	loaded.DeletedFor.Add("b")
	require.NoError(t, s.SaveRoom(ctx, loaded))
	require.EqualValues(t, 2, loaded.Version)

	_, err = stale.Append(models.Message{ID: "p2", Sender: "b", Content: "two", SentAt: base.Add(time.Minute)})
	require.NoError(t, err)
	require.ErrorIs(t, s.SaveRoom(ctx, stale), chaterr.ErrConflict)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Messages.Len())
	require.Equal(t, models.UserSet{"b"}, got.DeletedFor)
	require.True(t, got.LastMessageAt.Equal(base.Add(time.Minute)))

	m, _ := got.Messages.Get("p1")
	m.DeleteFor("a")
	got.DeletedFor.Remove("b")
	require.NoError(t, s.SaveRoom(ctx, got))

	again, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Empty(t, again.DeletedFor)
	m, _ = again.Messages.Get("p1")
	require.Equal(t, models.UserSet{"a"}, m.DeletedFor)

	missing := models.NewPrivateRoom("x", "y", base)
	missing.Version = 1
	require.ErrorIs(t, s.SaveRoom(ctx, missing), chaterr.ErrNotFound)
}

func testListRooms(t *testing.T, s store.Store) {
	ctx := context.Background()
	r1 := groupRoom("g-b", "c1")
	r2 := groupRoom("g-a", "c1")
	r2.CreatedAt = base.Add(time.Hour)
	r3 := groupRoom("g-c", "c2")
	for _, r := range []*models.Room{r1, r2, r3} {
		require.NoError(t, s.CreateRoom(ctx, r))
	}

	rooms, err := s.ListCommunityRooms(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, "g-b", rooms[0].ID)
	require.Equal(t, "g-a", rooms[1].ID)

	rooms, err = s.ListCommunityRooms(ctx, "none")
	require.NoError(t, err)
	require.Empty(t, rooms)

	require.NoError(t, s.CreateRoom(ctx, models.NewPrivateRoom("a", "b", base)))
	require.NoError(t, s.CreateRoom(ctx, models.NewPrivateRoom("a", "c", base)))
	require.NoError(t, s.CreateRoom(ctx, models.NewPrivateRoom("b", "c", base)))

	rooms, err = s.ListPrivateRooms(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	for _, r := range rooms {
		require.True(t, r.Participants.Has("a"))
	}
}

func testCanceledContext(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetRoom(ctx, "any")
	require.ErrorIs(t, err, chaterr.ErrUnavailable)
}

// checkWhole reports a room that mixes state from two commits of the writer in
// testReadsSeeWholeCommits.
func checkWhole(room *models.Room) error {
	n := room.Messages.Len()
	if int64(n) != room.Version-1 {
		return fmt.Errorf("version %d with %d messages", room.Version, n)
	}
	if all := room.Messages.All(); n > 0 && !all[n-1].SentAt.Equal(room.LastMessageAt) {
		return fmt.Errorf("lastMessageAt %v but last message sent %v", room.LastMessageAt, all[n-1].SentAt)
	}
	if room.DeletedFor.Has("b") != (n%2 == 1) {
		return fmt.Errorf("deletedFor %v with %d messages", room.DeletedFor, n)
	}
	return nil
}

func testReadsSeeWholeCommits(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := models.NewPrivateRoom("a", "b", base)
	require.NoError(t, s.CreateRoom(ctx, room))

	const writes = 150
	writerErr := make(chan error, 1)
	go func() {
		defer close(writerErr)
		for i := 1; i <= writes; i++ {
			cur, err := s.GetRoom(ctx, room.ID)
			if err != nil {
				writerErr <- err
				return
			}
			msg := models.Message{ID: fmt.Sprintf("w%d", i), Sender: "a", Content: "tick", SentAt: base.Add(time.Duration(i) * time.Second)}
			if _, err := cur.Append(msg); err != nil {
				writerErr <- err
				return
			}
			if !cur.DeletedFor.Remove("b") {
				cur.DeletedFor.Add("b")
			}
			if err := s.SaveRoom(ctx, cur); err != nil {
				writerErr <- err
				return
			}
		}
	}()

	reads := 0
	for done := false; !done; {
		select {
		case err, ok := <-writerErr:
			require.NoError(t, err)
			done = !ok
		default:
		}
		var got []*models.Room
		switch reads % 3 {
		case 0:
			r, err := s.GetRoom(ctx, room.ID)
			require.NoError(t, err)
			got = append(got, r)
		case 1:
			r, err := s.FindPrivateRoom(ctx, "b", "a")
			require.NoError(t, err)
			got = append(got, r)
		default:
			rs, err := s.ListPrivateRooms(ctx, "a")
			require.NoError(t, err)
			got = rs
		}
		for _, r := range got {
			if err := checkWhole(r); err != nil {
				t.Fatalf("read %d saw a partial commit: %v", reads, err)
			}
		}
		reads++
	}

	final, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, writes, final.Messages.Len())
	require.NoError(t, checkWhole(final))
}
