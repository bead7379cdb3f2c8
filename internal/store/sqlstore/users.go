package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/google/uuid"
)

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := s.rebind("INSERT INTO users (id, username, password, profile_pic) VALUES (?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Password, user.ProfilePic)
	return classify(err)
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(ctx, "SELECT id, username, password, profile_pic FROM users WHERE id = ?", id)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanUser(ctx, "SELECT id, username, password, profile_pic FROM users WHERE username = ?", username)
}

func (s *SQLStore) scanUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).Scan(&user.ID, &user.Username, &user.Password, &user.ProfilePic)
	if err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

// UpdateUser changes the public profile fields of an existing user.
func (s *SQLStore) UpdateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("UPDATE users SET username = ?, profile_pic = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, query, user.Username, user.ProfilePic, user.ID)
	if err != nil {
		return classify(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s", chaterr.ErrNotFound, user.ID)
	}
	return nil
}

func (s *SQLStore) CreateCommunity(ctx context.Context, c *models.Community) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind("INSERT INTO communities (id, title, created_by) VALUES (?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, c.ID, c.Title, c.CreatedBy); err != nil {
			return err
		}
		insert := s.rebind("INSERT INTO community_members (community_id, user_id, pos) VALUES (?, ?, ?)")
		for i, member := range c.Members {
			if _, err := tx.ExecContext(ctx, insert, c.ID, member, i); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(err)
}

func (s *SQLStore) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	var c models.Community
	query := s.rebind("SELECT id, title, created_by FROM communities WHERE id = ?")
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Title, &c.CreatedBy); err != nil {
		return nil, classify(err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT user_id FROM community_members WHERE community_id = ? ORDER BY pos"), id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	c.Members = models.UserSet{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, classify(err)
		}
		c.Members.Add(userID)
	}
	return &c, classify(rows.Err())
}
