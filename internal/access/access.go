// Package access holds the pure authorization predicates consulted before any
// room is read or written.
package access

import "github.com/arunpravin125/Eduvance-api/internal/models"

// CanCreateGroupRoom allows only the creator of a community with at least one member.
func CanCreateGroupRoom(caller string, c *models.Community) bool {
	return c != nil && caller != "" && c.CreatedBy == caller && len(c.Members) > 0
}

func CanPostToGroupRoom(caller string, r *models.Room) bool {
	return r != nil && r.IsGroup() && r.Members.Has(caller)
}

// CanPostToPrivateRoom ignores room-level deletion: posting restores the room.
func CanPostToPrivateRoom(caller string, r *models.Room) bool {
	return r != nil && r.IsPrivate() && r.Participants.Has(caller)
}

// CanPost dispatches on the room kind.
func CanPost(caller string, r *models.Room) bool {
	if r == nil {
		return false
	}
	if r.IsPrivate() {
		return CanPostToPrivateRoom(caller, r)
	}
	return CanPostToGroupRoom(caller, r)
}

// CanReadRoom is membership for group rooms and, for private rooms,
// participation without a room-level deletion.
func CanReadRoom(caller string, r *models.Room) bool {
	if r == nil {
		return false
	}
	if r.IsPrivate() {
		return r.Participants.Has(caller) && !r.DeletedFor.Has(caller)
	}
	return r.Members.Has(caller)
}

// CanViewCommunity allows the creator and community members.
func CanViewCommunity(caller string, c *models.Community) bool {
	return c != nil && (c.CreatedBy == caller || c.Members.Has(caller))
}
