// Package service implements the chat mutation protocol. Every write to a room
// runs under that room's lock: load, authorize, mutate, commit, then publish.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/metrics"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultStoreTimeout = 5 * time.Second

// errNoChange tells mutate the closure left the room untouched.
var errNoChange = errors.New("no change")

type ChatService struct {
	rooms       store.RoomStore
	users       store.UserDirectory
	communities store.CommunityDirectory
	pub         ws.Publisher

	locks    *roomLocks
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
	timeout  time.Duration
}

type Option func(*ChatService)

func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *ChatService) { s.newID = newID }
}

// WithStoreTimeout bounds every store call and every wait for a room lock.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *ChatService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(ws.Event) {}

func New(rooms store.RoomStore, users store.UserDirectory, communities store.CommunityDirectory, pub ws.Publisher, log zerolog.Logger, opts ...Option) *ChatService {
	if pub == nil {
		pub = nopPublisher{}
	}
	s := &ChatService{
		rooms:       rooms,
		users:       users,
		communities: communities,
		pub:         pub,
		locks:       newRoomLocks(),
		validate:    validator.New(),
		log:         log.With().Str("component", "chat").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		timeout:     defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MessageInput is the client-controlled part of a new message.
type MessageInput struct {
	Content string         `json:"content"`
	Media   []models.Media `json:"media" validate:"dive"`
	// ClientMessageID deduplicates retries from the same sender.
	ClientMessageID string `json:"client_message_id" validate:"max=128"`
}

func (s *ChatService) normalize(in MessageInput) (MessageInput, error) {
	in.Content = strings.TrimSpace(in.Content)
	in.ClientMessageID = strings.TrimSpace(in.ClientMessageID)
	if err := s.validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %v", chaterr.ErrInvalidInput, err)
	}
	if in.Content == "" && len(in.Media) == 0 {
		return in, fmt.Errorf("%w: message needs content or media", chaterr.ErrInvalidInput)
	}
	return in, nil
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing %s id", chaterr.ErrInvalidInput, kind)
	}
	return nil
}

func (s *ChatService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// commitCtx survives caller cancellation so a started commit is not abandoned.
func (s *ChatService) commitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func storeErr(err error) error {
	if err == nil || errors.Is(err, chaterr.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", chaterr.ErrUnavailable, err)
	}
	return err
}

func (s *ChatService) loadRoom(ctx context.Context, roomID string) (*models.Room, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	room, err := s.rooms.GetRoom(sctx, roomID)
	return room, storeErr(err)
}

func (s *ChatService) commit(ctx context.Context, room *models.Room, create bool) error {
	cctx, cancel := s.commitCtx(ctx)
	defer cancel()
	var err error
	if create {
		err = s.rooms.CreateRoom(cctx, room)
	} else {
		err = s.rooms.SaveRoom(cctx, room)
	}
	if err != nil {
		s.log.Error().Err(err).Str("room_id", room.ID).Msg("commit room")
	}
	return storeErr(err)
}

// publish stamps events with the committed version. Callers hold the room lock,
// which keeps per-room publish order equal to commit order.
func (s *ChatService) publish(room *models.Room, events []ws.Event) {
	at := s.now()
	for _, evt := range events {
		evt.RoomID = room.ID
		evt.Seq = room.Version
		evt.At = at
		s.pub.Publish(evt)
	}
}

// mutate runs fn against the latest committed room under the room lock and
// commits the result. fn returns errNoChange to skip the commit.
func (s *ChatService) mutate(ctx context.Context, roomID string, fn func(room *models.Room) ([]ws.Event, error)) (*models.Room, error) {
	if err := requireID("room", roomID); err != nil {
		return nil, err
	}
	lctx, cancel := s.storeCtx(ctx)
	unlock, err := s.locks.lock(lctx, roomID)
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	events, err := fn(room)
	if errors.Is(err, errNoChange) {
		return room, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, room, false); err != nil {
		return nil, err
	}
	s.publish(room, events)
	return room, nil
}

func (s *ChatService) observe(op string, err error) {
	metrics.MutationsTotal.WithLabelValues(op, chaterr.Kind(err)).Inc()
	if err != nil && chaterr.HTTPStatus(err) >= 500 {
		s.log.Error().Err(err).Str("op", op).Msg("chat operation failed")
		return
	}
	s.log.Debug().Err(err).Str("op", op).Msg("chat operation")
}

func (s *ChatService) newMessage(sender string, in MessageInput) models.Message {
	return models.Message{
		ID:       s.newID(),
		Sender:   sender,
		Content:  in.Content,
		Media:    in.Media,
		SentAt:   s.now(),
		ClientID: in.ClientMessageID,
	}
}

// restore clears room-level deletion for both participants of a private room
// so the conversation reappears on new traffic. History tombstones stay.
func restore(room *models.Room) {
	if !room.IsPrivate() {
		return
	}
	for _, p := range room.Participants {
		room.DeletedFor.Remove(p)
	}
}

func (s *ChatService) profile(ctx context.Context, userID string) (models.Profile, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.users.GetUser(sctx, userID)
	if errors.Is(err, chaterr.ErrNotFound) {
		return models.Profile{ID: userID}, nil
	}
	if err != nil {
		return models.Profile{}, storeErr(err)
	}
	return u.Profile(), nil
}

// ResolveProfiles looks up every distinct id. Unknown users resolve to a bare id.
func (s *ChatService) ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		p, err := s.profile(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}
