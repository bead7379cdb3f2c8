// Package badgerstore keeps room aggregates as JSON documents in an embedded
// Badger database. Secondary indexes are empty-valued keys.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	prefixRoom      = "room:"
	prefixPair      = "pair:"
	prefixGroups    = "groups:"
	prefixConv      = "conv:"
	prefixUser      = "user:"
	prefixUsername  = "username:"
	prefixCommunity = "community:"
)

type Store struct {
	db *badger.DB
}

// Open opens a store at dir. An empty dir opens an in-memory database.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// update commits fn's writes only if ctx is still live once fn has run, so a
// deadline that expires mid-transaction discards the transaction.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	next := *room
	next.Version = 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.ID, err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		key := []byte(prefixRoom + room.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: room %s exists", chaterr.ErrConflict, room.ID)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if room.IsPrivate() {
			pair := []byte(prefixPair + room.PairKey())
			if _, err := txn.Get(pair); err == nil {
				return fmt.Errorf("%w: pair %s exists", chaterr.ErrConflict, room.PairKey())
			}
			if err := txn.Set(pair, []byte(room.ID)); err != nil {
				return err
			}
			for _, p := range room.Participants {
				if err := txn.Set([]byte(prefixConv+p+":"+room.ID), nil); err != nil {
					return err
				}
			}
			return nil
		}
		return txn.Set([]byte(prefixGroups+room.CommunityID+":"+room.ID), nil)
	})
	if err != nil {
		return classify(err)
	}
	room.Version = 1
	return nil
}

func (s *Store) SaveRoom(ctx context.Context, room *models.Room) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	next := *room
	next.Version = room.Version + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.ID, err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		key := []byte(prefixRoom + room.ID)
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := getJSON(txn, key, &stored); err != nil {
			return err
		}
		if stored.Version != room.Version {
			return fmt.Errorf("%w: room %s at version %d, have %d", chaterr.ErrConflict, room.ID, stored.Version, room.Version)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return classify(err)
	}
	room.Version = next.Version
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	var room models.Room
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixRoom+id), &room)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &room, nil
}

func (s *Store) FindPrivateRoom(ctx context.Context, a, b string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	var room models.Room
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixPair + models.PairKey(a, b)))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, []byte(prefixRoom+string(id)), &room)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &room, nil
}

func (s *Store) ListCommunityRooms(ctx context.Context, communityID string) ([]*models.Room, error) {
	rooms, err := s.listIndexed(ctx, prefixGroups+communityID+":")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (s *Store) ListPrivateRooms(ctx context.Context, userID string) ([]*models.Room, error) {
	return s.listIndexed(ctx, prefixConv+userID+":")
}

// listIndexed loads every room whose id follows prefix in an index key.
func (s *Store) listIndexed(ctx context.Context, prefix string) ([]*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	var rooms []*models.Room
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		var ids []string
		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		it.Close()

		for _, id := range ids {
			var room models.Room
			if err := getJSON(txn, []byte(prefixRoom+id), &room); err != nil {
				return err
			}
			rooms = append(rooms, &room)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return rooms, nil
}

// userRecord keeps the password hash that models.User never serializes.
type userRecord struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	ProfilePic string `json:"profile_pic"`
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixUsername + user.Username)); err == nil {
			return fmt.Errorf("%w: username %q taken", chaterr.ErrConflict, user.Username)
		}
		if _, err := txn.Get([]byte(prefixUser + user.ID)); err == nil {
			return fmt.Errorf("%w: user %s exists", chaterr.ErrConflict, user.ID)
		}
		return putUser(txn, user)
	})
	return classify(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	var rec userRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixUser+id), &rec)
	})
	if err != nil {
		return nil, classify(err)
	}
	return rec.user(), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	var rec userRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixUsername + username))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, []byte(prefixUser+string(id)), &rec)
	})
	if err != nil {
		return nil, classify(err)
	}
	return rec.user(), nil
}

// UpdateUser changes the public profile fields of an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		var rec userRecord
		if err := getJSON(txn, []byte(prefixUser+user.ID), &rec); err != nil {
			return err
		}
		if rec.Username != user.Username {
			if _, err := txn.Get([]byte(prefixUsername + user.Username)); err == nil {
				return fmt.Errorf("%w: username %q taken", chaterr.ErrConflict, user.Username)
			}
			if err := txn.Delete([]byte(prefixUsername + rec.Username)); err != nil {
				return err
			}
		}
		updated := rec.user()
		updated.Username = user.Username
		updated.ProfilePic = user.ProfilePic
		return putUser(txn, updated)
	})
	return classify(err)
}

func (s *Store) CreateCommunity(ctx context.Context, c *models.Community) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		key := []byte(prefixCommunity + c.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: community %s exists", chaterr.ErrConflict, c.ID)
		}
		return txn.Set(key, data)
	})
	return classify(err)
}

func (s *Store) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	var c models.Community
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixCommunity+id), &c)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func putUser(txn *badger.Txn, user *models.User) error {
	data, err := json.Marshal(userRecord{ID: user.ID, Username: user.Username, Password: user.Password, ProfilePic: user.ProfilePic})
	if err != nil {
		return err
	}
	if err := txn.Set([]byte(prefixUser+user.ID), data); err != nil {
		return err
	}
	return txn.Set([]byte(prefixUsername+user.Username), []byte(user.ID))
}

func (r userRecord) user() *models.User {
	return &models.User{ID: r.ID, Username: r.Username, Password: r.Password, ProfilePic: r.ProfilePic}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chaterr.ErrNotFound), errors.Is(err, chaterr.ErrConflict), errors.Is(err, chaterr.ErrUnavailable):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", chaterr.ErrNotFound, err)
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", chaterr.ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrBlockedWrites):
		return fmt.Errorf("%w: %w", chaterr.ErrUnavailable, err)
	}
	return err
}
