package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reelmark/internal/config"
	"reelmark/internal/db"
	"reelmark/internal/domain"
	"reelmark/internal/migrate"
	"reelmark/internal/repo"
)

// Workspace bundles the opened database, repo and reel.yml of a workspace.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
}

// Open prepares the workspace directory, migrates the database and loads
// reel.yml, falling back to defaults when the file does not exist.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Workspace{Dir: dir, DB: conn, Repo: repo.New(conn), Config: cfg}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// ResolveActor returns actorID with the roles granted in the workspace.
// Extra roles from the command line are merged in.
func (w *Workspace) ResolveActor(ctx context.Context, actorID string, extra ...string) (domain.Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Actor{}, fmt.Errorf("actor id is required")
	}
	roles, err := w.Repo.ActorRoles(ctx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	seen := map[string]bool{}
	for _, r := range roles {
		seen[r] = true
	}
	for _, r := range extra {
		r = strings.TrimSpace(r)
		if r != "" && !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	return domain.Actor{ID: actorID, Roles: roles}, nil
}
