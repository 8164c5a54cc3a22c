package repo

import (
	"context"
	"errors"
	"strings"
)

// GrantRole gives actorID a role. Granting twice is a no-op.
func (r Repo) GrantRole(ctx context.Context, actorID, role string) error {
	actorID, role = strings.TrimSpace(actorID), strings.TrimSpace(role)
	if actorID == "" || role == "" {
		return errors.New("actor_id and role required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role, granted_at) VALUES (?,?,?)`,
		actorID, role, formatTime(r.now()))
	return err
}

func (r Repo) RevokeRole(ctx context.Context, actorID, role string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role=?`, actorID, role)
	return err
}

// ActorRoles lists the roles granted to actorID.
func (r Repo) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role FROM actor_roles WHERE actor_id=? ORDER BY role`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
