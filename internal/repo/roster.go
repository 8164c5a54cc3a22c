package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reelmark/internal/domain"
)

func (r Repo) AddRosterEntry(ctx context.Context, e domain.RosterEntry) (domain.RosterEntry, error) {
	e.TeamID = strings.TrimSpace(e.TeamID)
	e.DisplayName = strings.TrimSpace(e.DisplayName)
	if e.TeamID == "" {
		return e, errors.New("team id is required")
	}
	if e.DisplayName == "" {
		return e, errors.New("display name is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var jersey any
	if e.JerseyNumber != nil {
		jersey = *e.JerseyNumber
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO roster_entries(id, team_id, display_name, jersey_number, pending) VALUES (?,?,?,?,?)`,
		e.ID, e.TeamID, e.DisplayName, jersey, boolInt(e.Pending))
	if err != nil {
		return e, fmt.Errorf("insert roster entry: %w", err)
	}
	return e, nil
}

// RosterCandidates lists mentionable players of a team, pending placeholders included.
func (r Repo) RosterCandidates(ctx context.Context, teamID string) ([]domain.RosterEntry, error) {
	q := `SELECT id, team_id, display_name, jersey_number, pending FROM roster_entries`
	var args []any
	if teamID != "" {
		q += ` WHERE team_id=?`
		args = append(args, teamID)
	}
	q += ` ORDER BY display_name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RosterEntry
	for rows.Next() {
		var e domain.RosterEntry
		var jersey sql.NullInt64
		var pending int
		if err := rows.Scan(&e.ID, &e.TeamID, &e.DisplayName, &jersey, &pending); err != nil {
			return nil, err
		}
		if jersey.Valid {
			n := int(jersey.Int64)
			e.JerseyNumber = &n
		}
		e.Pending = pending != 0
		res = append(res, e)
	}
	return res, rows.Err()
}
