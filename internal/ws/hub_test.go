package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	hub := NewHub(zerolog.Nop(), 16)
	t.Cleanup(hub.Shutdown)
	return hub
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.userID)
		return nil
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame for %s: %s", c.userID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub := newTestHub(t)
	client := NewClient(hub, nil, "u1", 64)
	require.True(t, hub.Subscribe(client, "r1"))
	require.Eventually(t, func() bool { return hub.Online("r1") == 1 }, time.Second, 10*time.Millisecond)

	for i := 1; i <= 20; i++ {
		hub.Publish(Event{Type: EventMessageSent, RoomID: "r1", Seq: int64(i)})
	}
	for i := 1; i <= 20; i++ {
		frame := receive(t, client)
		require.Equal(t, string(EventMessageSent), frame["type"])
		require.EqualValues(t, i, frame["seq"])
	}
}

func TestHubFiltersByVisibility(t *testing.T) {
	hub := newTestHub(t)
	a := NewClient(hub, nil, "a", 8)
	b := NewClient(hub, nil, "b", 8)
	require.True(t, hub.Subscribe(a, "r1"))
	require.True(t, hub.Subscribe(b, "r1"))

	hub.Publish(Event{Type: EventReactionChanged, RoomID: "r1", Seq: 1, HiddenFor: models.NewUserSet("b")})
	require.EqualValues(t, 1, receive(t, a)["seq"])
	expectNothing(t, b)

	hub.Publish(Event{Type: EventMessageDeleted, RoomID: "r1", Seq: 2, Audience: models.NewUserSet("b")})
	require.EqualValues(t, 2, receive(t, b)["seq"])
	expectNothing(t, a)
}

func TestHubOnlyReachesRoomSubscribers(t *testing.T) {
	hub := newTestHub(t)
	inRoom := NewClient(hub, nil, "a", 8)
	elsewhere := NewClient(hub, nil, "a", 8)
	require.True(t, hub.Subscribe(inRoom, "r1"))
	require.True(t, hub.Subscribe(elsewhere, "r2"))

	hub.Publish(Event{Type: EventMessageSent, RoomID: "r1", Seq: 1})
	hub.Publish(Event{Type: EventMessageSent, RoomID: "nobody-here", Seq: 1})

	require.Equal(t, "r1", receive(t, inRoom)["room_id"])
	expectNothing(t, elsewhere)
	require.Zero(t, hub.Online("nobody-here"))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := newTestHub(t)
	slow := NewClient(hub, nil, "slow", 1)
	fast := NewClient(hub, nil, "fast", 8)
	require.True(t, hub.Subscribe(slow, "r1"))
	require.True(t, hub.Subscribe(fast, "r1"))

	hub.Publish(Event{Type: EventMessageSent, RoomID: "r1", Seq: 1})
	hub.Publish(Event{Type: EventMessageSent, RoomID: "r1", Seq: 2})

	require.EqualValues(t, 1, receive(t, fast)["seq"])
	require.EqualValues(t, 2, receive(t, fast)["seq"])

	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not closed")
	}
	require.Eventually(t, func() bool { return hub.Online("r1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	hub := newTestHub(t)
	c := NewClient(hub, nil, "u1", 8)
	require.True(t, hub.Subscribe(c, "r1"))
	require.True(t, hub.Subscribe(c, "r2"))
	require.ElementsMatch(t, []string{"r1", "r2"}, c.subscriptions())

	hub.Unsubscribe(c, "r1")
	require.Equal(t, []string{"r2"}, c.subscriptions())
	require.Eventually(t, func() bool { return hub.Online("r1") == 0 }, time.Second, 10*time.Millisecond)

	hub.Disconnect(c)
	require.Empty(t, c.subscriptions())
	require.Eventually(t, func() bool { return hub.Online("r2") == 0 }, time.Second, 10*time.Millisecond)
	select {
	case <-c.done:
	default:
		t.Fatal("disconnect should close the client")
	}
}

func TestShutdownRejectsSubscriptions(t *testing.T) {
	hub := NewHub(zerolog.Nop(), 4)
	c := NewClient(hub, nil, "u1", 8)
	require.True(t, hub.Subscribe(c, "r1"))

	hub.Shutdown()
	hub.Shutdown()

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("subscribed client not closed on shutdown")
	}
	require.False(t, hub.Subscribe(NewClient(hub, nil, "u2", 8), "r9"))
	hub.Publish(Event{Type: EventMessageSent, RoomID: "r1"})
}

func TestHubReapsEmptyRooms(t *testing.T) {
	hub := newTestHub(t)
	clients := make([]*Client, 0, 50)
	for i := 0; i < 50; i++ {
		c := NewClient(hub, nil, fmt.Sprintf("u%d", i), 4)
		require.True(t, hub.Subscribe(c, fmt.Sprintf("room-%d", i)))
		clients = append(clients, c)
	}
	require.Equal(t, 50, hub.size())

	for _, c := range clients {
		hub.Disconnect(c)
	}
	require.Eventually(t, func() bool { return hub.size() == 0 }, time.Second, 10*time.Millisecond)

	back := NewClient(hub, nil, "u0", 4)
	require.True(t, hub.Subscribe(back, "room-0"))
	hub.Publish(Event{Type: EventMessageSent, RoomID: "room-0", Seq: 7})
	require.EqualValues(t, 7, receive(t, back)["seq"])
}

func TestHubReapsRoomAfterDroppingLastSubscriber(t *testing.T) {
	hub := newTestHub(t)
	slow := NewClient(hub, nil, "slow", 1)
	require.True(t, hub.Subscribe(slow, "r1"))

	hub.Publish(Event{Type: EventMessageSent, RoomID: "r1", Seq: 1})
	hub.Publish(Event{Type: EventMessageSent, RoomID: "r1", Seq: 2})

	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not closed")
	}
	require.Eventually(t, func() bool { return hub.size() == 0 }, time.Second, 10*time.Millisecond)
	hub.Disconnect(slow)
	require.Empty(t, slow.subscriptions())
}

type authorizerFunc func(ctx context.Context, userID, roomID string) error

func (f authorizerFunc) AuthorizeSubscribe(ctx context.Context, userID, roomID string) error {
	return f(ctx, userID, roomID)
}

func TestClientSubscribeCommand(t *testing.T) {
	hub := newTestHub(t)
	authz := authorizerFunc(func(_ context.Context, userID, roomID string) error {
		if roomID == "secret" {
			return fmt.Errorf("%w: %s may not read %s", chaterr.ErrForbidden, userID, roomID)
		}
		return nil
	})
	c := NewClient(hub, nil, "u1", 8)

	c.handle(command{Op: "subscribe", RoomID: "secret"}, authz)
	frame := receive(t, c)
	require.Equal(t, "error", frame["type"])
	require.Equal(t, "forbidden", frame["error"])
	require.Zero(t, hub.Online("secret"))

	c.handle(command{Op: "subscribe", RoomID: "open"}, authz)
	require.Equal(t, "subscribed", receive(t, c)["type"])
	require.Eventually(t, func() bool { return hub.Online("open") == 1 }, time.Second, 10*time.Millisecond)

	c.handle(command{Op: "ping"}, authz)
	require.Equal(t, "pong", receive(t, c)["type"])

	c.handle(command{Op: "unsubscribe", RoomID: "open"}, authz)
	require.Equal(t, "unsubscribed", receive(t, c)["type"])

	c.handle(command{Op: "dance"}, authz)
	require.Equal(t, "error", receive(t, c)["type"])
}

func TestEventVisibleTo(t *testing.T) {
	evt := Event{HiddenFor: models.NewUserSet("x")}
	require.True(t, evt.VisibleTo("y"))
	require.False(t, evt.VisibleTo("x"))

	evt.Audience = models.NewUserSet("y")
	require.True(t, evt.VisibleTo("y"))
	require.False(t, evt.VisibleTo("z"))
}
