package store

import (
	"context"

	"github.com/arunpravin125/Eduvance-api/internal/models"
)

// RoomStore persists room aggregates. Every write commits the whole aggregate
// atomically and readers only ever observe committed states.
type RoomStore interface {
	// CreateRoom inserts a new room and sets its Version to 1. A duplicate id or
	// private pair fails with chaterr.ErrConflict.
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	// FindPrivateRoom looks the room up by its unordered participant pair.
	FindPrivateRoom(ctx context.Context, a, b string) (*models.Room, error)
	// SaveRoom commits room only if the stored version still equals room.Version,
	// then increments room.Version. A stale version fails with chaterr.ErrConflict.
	SaveRoom(ctx context.Context, room *models.Room) error
	ListCommunityRooms(ctx context.Context, communityID string) ([]*models.Room, error)
	ListPrivateRooms(ctx context.Context, userID string) ([]*models.Room, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type CommunityDirectory interface {
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
}

// Accounts backs signup and login.
type Accounts interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

type Store interface {
	RoomStore
	UserDirectory
	CommunityDirectory
	Accounts
	CreateCommunity(ctx context.Context, c *models.Community) error
	Close() error
}
