package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/examhall/internal/model"
)

const userColumns = `id, tenant_id, username, display_name, role, active, created_at`

// CreateUser inserts a new user and returns its id.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, tenant_id, username, display_name, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.TenantID, u.Username, u.DisplayName, u.Role, u.Active, utc(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("create user %q: %w", u.Username, ErrConflict)
		}
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return "", err
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return u.ID, nil
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns the users of a tenant.
func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE tenant_id = ? ORDER BY username`), tenantID)
	return users, err
}

// SetUserActive enables or disables a user within a tenant.
func (s *Store) SetUserActive(ctx context.Context, tenantID, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET active = ? WHERE id = ? AND tenant_id = ?`), active, id, tenantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}
