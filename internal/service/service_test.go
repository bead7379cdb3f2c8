package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/arunpravin125/Eduvance-api/internal/store/badgerstore"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []ws.Event
}

func (r *recorder) Publish(evt ws.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) all() []ws.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ws.Event, len(r.events))
	copy(out, r.events)
	return out
}

type fixture struct {
	svc   *ChatService
	store *badgerstore.Store
	pub   *recorder
}

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := badgerstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return newFixtureWith(t, st, st, opts...)
}

func newFixtureWith(t *testing.T, st *badgerstore.Store, rooms store.RoomStore, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "x", "y", "z", "w"} {
		require.NoError(t, st.CreateUser(ctx, &models.User{ID: id, Username: id + "_name", ProfilePic: id + ".png"}))
	}
	require.NoError(t, st.CreateCommunity(ctx, &models.Community{
		ID: "c1", Title: "Gophers", CreatedBy: "x", Members: models.NewUserSet("x", "y", "z"),
	}))
	require.NoError(t, st.CreateCommunity(ctx, &models.Community{ID: "empty", Title: "Empty", CreatedBy: "x"}))

	var tick atomic.Int64
	var seq atomic.Int64
	base := []Option{
		WithClock(func() time.Time { return epoch.Add(time.Duration(tick.Add(1)) * time.Second) }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	}
	pub := &recorder{}
	svc := New(rooms, st, st, pub, zerolog.Nop(), append(base, opts...)...)
	return &fixture{svc: svc, store: st, pub: pub}
}

func (f *fixture) groupRoom(t *testing.T) *models.Room {
	t.Helper()
	room, err := f.svc.CreateGroupRoom(context.Background(), "x", CreateGroupRoomInput{CommunityID: "c1"})
	require.NoError(t, err)
	return room
}

func text(s string) MessageInput { return MessageInput{Content: s} }

func TestFirstPrivateSendCreatesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, msg, err := f.svc.SendPrivateMessage(ctx, "alice", "bob", text("hi"))
	require.NoError(t, err)
	require.Equal(t, models.KindPrivate, room.Kind)
	require.ElementsMatch(t, []string{"alice", "bob"}, room.Participants)
	require.Equal(t, 1, room.Messages.Len())
	require.Equal(t, msg.SentAt, room.LastMessageAt)

	stored, err := f.store.FindPrivateRoom(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, room.ID, stored.ID)
	require.True(t, stored.LastMessageAt.Equal(msg.SentAt))

	events := f.pub.all()
	require.Len(t, events, 1)
	require.Equal(t, ws.EventMessageSent, events[0].Type)
	require.Equal(t, room.ID, events[0].RoomID)
	require.EqualValues(t, 1, events[0].Seq)
}

func TestPrivatePairSharesOneRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1, _, err := f.svc.SendPrivateMessage(ctx, "alice", "bob", text("one"))
	require.NoError(t, err)
	r2, _, err := f.svc.SendPrivateMessage(ctx, "bob", "alice", text("two"))
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.ID)
	require.Equal(t, 2, r2.Messages.Len())

	rooms, err := f.store.ListPrivateRooms(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
}

func TestPrivateSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.SendPrivateMessage(ctx, "alice", "alice", text("me"))
	require.ErrorIs(t, err, chaterr.ErrInvalidInput)

	_, _, err = f.svc.SendPrivateMessage(ctx, "alice", "ghost", text("boo"))
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	_, _, err = f.svc.SendPrivateMessage(ctx, "alice", "bob", text("   "))
	require.ErrorIs(t, err, chaterr.ErrInvalidInput)

	_, _, err = f.svc.SendPrivateMessage(ctx, "alice", "bob", MessageInput{Media: []models.Media{{URL: "u", Type: "hologram"}}})
	require.ErrorIs(t, err, chaterr.ErrInvalidInput)

	_, msg, err := f.svc.SendPrivateMessage(ctx, "alice", "bob", MessageInput{Media: []models.Media{{URL: "https://cdn/x.png", Type: models.MediaImage}}})
	require.NoError(t, err)
	require.Empty(t, msg.Content)
	require.Len(t, msg.Media, 1)
	require.Len(t, f.pub.all(), 1)
}

func TestGroupRequiresContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)

	_, err := f.svc.SendMessage(ctx, "x", room.ID, MessageInput{Media: []models.Media{{URL: "https://cdn/x.png", Type: models.MediaImage}}})
	require.ErrorIs(t, err, chaterr.ErrInvalidInput)

	msg, err := f.svc.SendMessage(ctx, "x", room.ID, MessageInput{Content: " hello ", Media: []models.Media{{URL: "https://cdn/x.png", Type: models.MediaImage}}})
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Content)
}

func TestCreateGroupRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room := f.groupRoom(t)
	require.Equal(t, "Gophers Group Chat", room.Name)
	require.Equal(t, models.UserSet{"x", "y", "z"}, room.Members)
	require.Equal(t, models.UserSet{"x"}, room.Admins)
	require.Equal(t, "c1", room.CommunityID)
	require.EqualValues(t, 1, room.Version)

	named, err := f.svc.CreateGroupRoom(ctx, "x", CreateGroupRoomInput{CommunityID: "c1", Name: "Random"})
	require.NoError(t, err)
	require.Equal(t, "Random", named.Name)

	_, err = f.svc.CreateGroupRoom(ctx, "y", CreateGroupRoomInput{CommunityID: "c1"})
	require.ErrorIs(t, err, chaterr.ErrForbidden)
	_, err = f.svc.CreateGroupRoom(ctx, "x", CreateGroupRoomInput{CommunityID: "nope"})
	require.ErrorIs(t, err, chaterr.ErrNotFound)
	_, err = f.svc.CreateGroupRoom(ctx, "x", CreateGroupRoomInput{CommunityID: "empty"})
	require.ErrorIs(t, err, chaterr.ErrInvalidState)
	_, err = f.svc.CreateGroupRoom(ctx, "x", CreateGroupRoomInput{})
	require.ErrorIs(t, err, chaterr.ErrInvalidInput)

	summaries, err := f.svc.ListCommunityRooms(ctx, "z", "c1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	_, err = f.svc.ListCommunityRooms(ctx, "w", "c1")
	require.ErrorIs(t, err, chaterr.ErrForbidden)
}

func TestReactionSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, msg, err := f.svc.SendPrivateMessage(ctx, "alice", "bob", text("react to me"))
	require.NoError(t, err)

	res, err := f.svc.ToggleReaction(ctx, "bob", room.ID, msg.ID, "👍")
	require.NoError(t, err)
	require.Equal(t, models.ReactionAdded, res.Action)
	require.Equal(t, map[string]string{"bob": "👍"}, res.Reactions)

	res, err = f.svc.ToggleReaction(ctx, "bob", room.ID, msg.ID, "👎")
	require.NoError(t, err)
	require.Equal(t, models.ReactionReplaced, res.Action)

	res, err = f.svc.ToggleReaction(ctx, "bob", room.ID, msg.ID, "👎")
	require.NoError(t, err)
	require.Equal(t, models.ReactionRemoved, res.Action)
	require.Empty(t, res.Reactions)

	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	m, _ := stored.Messages.Get(msg.ID)
	require.Empty(t, m.Reactions)

	_, err = f.svc.ToggleReaction(ctx, "bob", room.ID, msg.ID, "  ")
	require.ErrorIs(t, err, chaterr.ErrInvalidInput)
	_, err = f.svc.ToggleReaction(ctx, "bob", room.ID, "missing", "👍")
	require.ErrorIs(t, err, chaterr.ErrNotFound)
	_, err = f.svc.ToggleReaction(ctx, "w", room.ID, msg.ID, "👍")
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	events := f.pub.all()
	require.Len(t, events, 4)
	for i, evt := range events[1:] {
		require.Equal(t, ws.EventReactionChanged, evt.Type)
		require.EqualValues(t, i+2, evt.Seq)
	}
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)
	msg, err := f.svc.SendMessage(ctx, "x", room.ID, text("read me"))
	require.NoError(t, err)
	require.False(t, msg.Seen)

	first, err := f.svc.MarkSeen(ctx, "y", room.ID, msg.ID)
	require.NoError(t, err)
	second, err := f.svc.MarkSeen(ctx, "y", room.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, models.UserSet{"y"}, second)

	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, stored.Version)
	m, _ := stored.Messages.Get(msg.ID)
	require.True(t, m.Seen)

	seen := 0
	for _, evt := range f.pub.all() {
		if evt.Type == ws.EventMessageSeen {
			seen++
		}
	}
	require.Equal(t, 1, seen)

	profiles, err := f.svc.GetSeenBy(ctx, "z", room.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, []models.Profile{{ID: "y", Username: "y_name", ProfilePic: "y.png"}}, profiles)
}

func TestDeleteMessageForMeOnlyHidesForViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)
	keep, err := f.svc.SendMessage(ctx, "x", room.ID, text("keep"))
	require.NoError(t, err)
	gone, err := f.svc.SendMessage(ctx, "x", room.ID, text("hide"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMessageForMe(ctx, "y", room.ID, gone.ID))
	require.NoError(t, f.svc.DeleteMessageForMe(ctx, "y", room.ID, gone.ID))

	forY, err := f.svc.ListVisibleMessages(ctx, "y", room.ID)
	require.NoError(t, err)
	require.Len(t, forY, 1)
	require.Equal(t, keep.ID, forY[0].ID)

	forZ, err := f.svc.ListVisibleMessages(ctx, "z", room.ID)
	require.NoError(t, err)
	require.Len(t, forZ, 2)
	require.Equal(t, keep.ID, forZ[0].ID)
	require.Equal(t, gone.ID, forZ[1].ID)

	_, err = f.svc.GetReactions(ctx, "y", room.ID, gone.ID)
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	events := f.pub.all()
	last := events[len(events)-1]
	require.Equal(t, ws.EventMessageDeleted, last.Type)
	require.True(t, last.VisibleTo("y"))
	require.False(t, last.VisibleTo("z"))
	deletes := 0
	for _, evt := range events {
		if evt.Type == ws.EventMessageDeleted {
			deletes++
		}
	}
	require.Equal(t, 1, deletes)
}

func TestDeleteRoomForMeAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, err := f.svc.SendPrivateMessage(ctx, "alice", "bob", text("one"))
	require.NoError(t, err)
	_, _, err = f.svc.SendPrivateMessage(ctx, "bob", "alice", text("two"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteRoomForMe(ctx, "alice", room.ID))
	require.NoError(t, f.svc.DeleteRoomForMe(ctx, "alice", room.ID))

	_, err = f.svc.ListVisibleMessages(ctx, "alice", room.ID)
	require.ErrorIs(t, err, chaterr.ErrForbidden)
	require.ErrorIs(t, f.svc.AuthorizeSubscribe(ctx, "alice", room.ID), chaterr.ErrForbidden)
	forBob, err := f.svc.ListVisibleMessages(ctx, "bob", room.ID)
	require.NoError(t, err)
	require.Len(t, forBob, 2)

	convs, err := f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, convs)

	_, fresh, err := f.svc.SendPrivateMessage(ctx, "alice", "bob", text("three"))
	require.NoError(t, err)

	forAlice, err := f.svc.ListVisibleMessages(ctx, "alice", room.ID)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	require.Equal(t, fresh.ID, forAlice[0].ID)

	forBob, err = f.svc.ListVisibleMessages(ctx, "bob", room.ID)
	require.NoError(t, err)
	require.Len(t, forBob, 3)

	convs, err = f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "bob", convs[0].Participant.ID)
	require.Equal(t, "bob_name", convs[0].Participant.Username)
	require.True(t, convs[0].LastMessageAt.Equal(fresh.SentAt))
}

func TestDeleteRoomForMeRejectsGroupRooms(t *testing.T) {
	f := newFixture(t)
	room := f.groupRoom(t)
	err := f.svc.DeleteRoomForMe(context.Background(), "y", room.ID)
	require.ErrorIs(t, err, chaterr.ErrInvalidState)
}

func TestReplySnapshotIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)
	original, err := f.svc.SendMessage(ctx, "x", room.ID, text("Hello"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMessageForMe(ctx, "y", room.ID, original.ID))
	reply, err := f.svc.ReplyToMessage(ctx, "y", room.ID, original.ID, text("hi X"))
	require.NoError(t, err)
	require.Equal(t, &models.ReplySnapshot{
		OriginalID: original.ID,
		Content:    "Hello",
		Sender:     models.SenderSnapshot{ID: "x", Username: "x_name", ProfilePic: "x.png"},
	}, reply.ReplyTo)

	require.NoError(t, f.store.UpdateUser(ctx, &models.User{ID: "x", Username: "x_renamed", ProfilePic: "new.png"}))
	require.NoError(t, f.svc.DeleteMessageForMe(ctx, "z", room.ID, original.ID))

	msgs, err := f.svc.ListVisibleMessages(ctx, "z", room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "Hello", msgs[0].ReplyTo.Content)
	require.Equal(t, "x_name", msgs[0].ReplyTo.Sender.Username)

	_, err = f.svc.ReplyToMessage(ctx, "y", room.ID, "missing", text("?"))
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	events := f.pub.all()
	require.Equal(t, ws.EventMessageReplied, events[2].Type)
}

func TestNonMemberCannotPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)

	_, err := f.svc.SendMessage(ctx, "w", room.ID, text("let me in"))
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Zero(t, stored.Messages.Len())
	require.EqualValues(t, 1, stored.Version)
	require.Empty(t, f.pub.all())

	_, err = f.svc.ListVisibleMessages(ctx, "w", room.ID)
	require.ErrorIs(t, err, chaterr.ErrForbidden)
	_, err = f.svc.SendMessage(ctx, "x", "no-such-room", text("hi"))
	require.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestClientMessageIDDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)

	in := MessageInput{Content: "once", ClientMessageID: "tok-1"}
	first, err := f.svc.SendMessage(ctx, "x", room.ID, in)
	require.NoError(t, err)
	again, err := f.svc.SendMessage(ctx, "x", room.ID, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	other, err := f.svc.SendMessage(ctx, "y", room.ID, in)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	msgs, err := f.svc.ListVisibleMessages(ctx, "z", room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, f.pub.all(), 2)
}

func TestEventsHideTombstonedTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)
	msg, err := f.svc.SendMessage(ctx, "x", room.ID, text("secretly gone for z"))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMessageForMe(ctx, "z", room.ID, msg.ID))

	_, err = f.svc.ToggleReaction(ctx, "y", room.ID, msg.ID, "🎉")
	require.NoError(t, err)

	events := f.pub.all()
	last := events[len(events)-1]
	require.Equal(t, ws.EventReactionChanged, last.Type)
	require.True(t, last.VisibleTo("x"))
	require.False(t, last.VisibleTo("z"))
}

func TestConcurrentMutationsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.store

	members := models.NewUserSet()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("m%02d", i)
		require.NoError(t, st.CreateUser(ctx, &models.User{ID: id, Username: id}))
		members.Add(id)
	}
	require.NoError(t, st.CreateCommunity(ctx, &models.Community{ID: "big", Title: "Big", CreatedBy: "m00", Members: members}))
	room, err := f.svc.CreateGroupRoom(ctx, "m00", CreateGroupRoomInput{CommunityID: "big"})
	require.NoError(t, err)
	target, err := f.svc.SendMessage(ctx, "m00", room.ID, text("everyone look"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2*len(members))
	for _, id := range members {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.MarkSeen(ctx, id, room.ID, target.ID)
			errs <- err
		}(id)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.SendMessage(ctx, id, room.ID, text("from "+id))
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := st.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1+len(members), stored.Messages.Len())
	m, _ := stored.Messages.Get(target.ID)
	require.ElementsMatch(t, members, m.SeenBy)

	var lastSeq int64
	for _, evt := range f.pub.all() {
		require.Greater(t, evt.Seq, lastSeq)
		lastSeq = evt.Seq
	}
	require.Equal(t, stored.Version, lastSeq)
	require.Zero(t, f.svc.locks.size())
}

type blockingRooms struct {
	store.RoomStore
}

func (blockingRooms) GetRoom(ctx context.Context, _ string) (*models.Room, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	st, err := badgerstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := newFixtureWith(t, st, blockingRooms{st}, WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	_, err = f.svc.SendMessage(context.Background(), "x", "any-room", text("hello"))
	require.ErrorIs(t, err, chaterr.ErrUnavailable)
	require.True(t, chaterr.Retryable(err))
	require.Less(t, time.Since(start), time.Second)

	_, err = f.svc.ListVisibleMessages(context.Background(), "x", "any-room")
	require.ErrorIs(t, err, chaterr.ErrUnavailable)
}

type cancelOnSave struct {
	store.RoomStore
	cancel context.CancelFunc
}

func (c cancelOnSave) SaveRoom(ctx context.Context, room *models.Room) error {
	c.cancel()
	return c.RoomStore.SaveRoom(ctx, room)
}

func TestCommitSurvivesCallerCancel(t *testing.T) {
	st, err := badgerstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWith(t, st, cancelOnSave{RoomStore: st, cancel: cancel})
	room := f.groupRoom(t)

	msg, err := f.svc.SendMessage(ctx, "x", room.ID, text("committed anyway"))
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	stored, err := st.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	_, ok := stored.Messages.Get(msg.ID)
	require.True(t, ok)
	require.Len(t, f.pub.all(), 1)
}

func TestReactionsProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t)
	msg, err := f.svc.SendMessage(ctx, "x", room.ID, text("vote"))
	require.NoError(t, err)
	_, err = f.svc.ToggleReaction(ctx, "z", room.ID, msg.ID, "👍")
	require.NoError(t, err)
	_, err = f.svc.ToggleReaction(ctx, "y", room.ID, msg.ID, "👎")
	require.NoError(t, err)

	views, err := f.svc.GetReactions(ctx, "x", room.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, []models.ReactionView{
		{User: models.Profile{ID: "y", Username: "y_name", ProfilePic: "y.png"}, Emoji: "👎"},
		{User: models.Profile{ID: "z", Username: "z_name", ProfilePic: "z.png"}, Emoji: "👍"},
	}, views)

	profiles, err := f.svc.ResolveProfiles(ctx, []string{"x", "ghost", "x"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Equal(t, models.Profile{ID: "ghost"}, profiles["ghost"])
}
