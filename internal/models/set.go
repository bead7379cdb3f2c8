package models

import (
	"encoding/json"

	"github.com/samber/lo"
)

// UserSet is an insertion-ordered set of user ids.
type UserSet []string

func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, 0, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s UserSet) Has(id string) bool {
	return lo.Contains(s, id)
}

// Add reports whether id was newly inserted.
func (s *UserSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Remove reports whether id was present.
func (s *UserSet) Remove(id string) bool {
	i := lo.IndexOf(*s, id)
	if i < 0 {
		return false
	}
	*s = append((*s)[:i], (*s)[i+1:]...)
	return true
}

func (s UserSet) Clone() UserSet {
	out := make(UserSet, len(s))
	copy(out, s)
	return out
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}
