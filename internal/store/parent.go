package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/examhall/internal/model"
)

// LinkParent records a parent-child link. Linking again updates the verified flag.
func (s *Store) LinkParent(ctx context.Context, link model.ParentChild) error {
	link.CreatedAt = utc(s.now())
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO parent_children (parent_id, student_id, verified, created_at)
		 VALUES (:parent_id, :student_id, :verified, :created_at)
		 ON CONFLICT (parent_id, student_id) DO UPDATE SET verified = excluded.verified`, link)
	if err != nil {
		return fmt.Errorf("link parent: %w", err)
	}
	return nil
}

// IsVerifiedParent reports whether parentID has a verified link to studentID.
func (s *Store) IsVerifiedParent(ctx context.Context, parentID, studentID string) (bool, error) {
	var verified bool
	err := s.db.GetContext(ctx, &verified, s.rebind(
		`SELECT verified FROM parent_children WHERE parent_id = ? AND student_id = ?`), parentID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return verified, err
}

// ListChildren returns the students a parent is verified for.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users, s.rebind(
		`SELECT u.id, u.tenant_id, u.username, u.display_name, u.role, u.active, u.created_at
		 FROM parent_children pc
		 JOIN users u ON u.id = pc.student_id
		 WHERE pc.parent_id = ? AND pc.verified
		 ORDER BY u.username`), parentID)
	return users, err
}
