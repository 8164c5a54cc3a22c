package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reelmark/internal/app"
	"reelmark/internal/domain"
	"reelmark/internal/playback"
	"reelmark/internal/playback/local"
)

func videoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "video", Short: "Manage the video catalog"}
	cmd.AddCommand(videoAddCmd())
	cmd.AddCommand(videoListCmd())
	return cmd
}

func videoAddCmd() *cobra.Command {
	var v domain.Video
	var kind string
	var probe bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a video",
		Long:  "Register a local media file or an embedded video (URL or id). Local files are probed with ffprobe for their duration unless --duration is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v.SourceKind = domain.SourceKind(strings.ToLower(kind))
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if v.SourceKind == domain.SourceLocal && v.Duration == 0 && probe {
					d, err := local.FFprobe(ws.Config.Playback.FFprobePath)(ctx, v.MediaLocator)
					if err != nil {
						return err
					}
					v.Duration = d
				}
				created, err := ws.Repo.InsertVideo(ctx, v)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&v.ID, "id", "", "video id")
	cmd.Flags().StringVar(&v.Title, "title", "", "title")
	cmd.Flags().StringVar(&kind, "source", string(domain.SourceLocal), "source kind (local, embedded)")
	cmd.Flags().StringVar(&v.MediaLocator, "locator", "", "file path, or embedded video URL/id")
	cmd.Flags().Float64Var(&v.Duration, "duration", 0, "duration in seconds")
	cmd.Flags().BoolVar(&probe, "probe", true, "probe local files with ffprobe")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("locator")
	return cmd
}

func videoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Repo.ListVideos(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Source", "Locator", "Duration"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.Title, v.SourceKind, v.MediaLocator, playback.FormatTime(v.Duration)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roster", Short: "Manage team rosters (mention candidates)"}
	cmd.AddCommand(rosterAddCmd())
	cmd.AddCommand(rosterListCmd())
	return cmd
}

func rosterAddCmd() *cobra.Command {
	var e domain.RosterEntry
	var jersey int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a player, or a pending placeholder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("jersey") {
				e.JerseyNumber = &jersey
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				created, err := ws.Repo.AddRosterEntry(ctx, e)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&e.TeamID, "team", "", "team id")
	cmd.Flags().StringVar(&e.ID, "id", "", "player id (generated when empty)")
	cmd.Flags().StringVar(&e.DisplayName, "name", "", "display name")
	cmd.Flags().IntVar(&jersey, "jersey", 0, "jersey number")
	cmd.Flags().BoolVar(&e.Pending, "pending", false, "placeholder for a player without an account")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func rosterListCmd() *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mention candidates of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Repo.RosterCandidates(ctx, team)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Jersey", "Pending"})
				for _, e := range items {
					jersey := ""
					if e.JerseyNumber != nil {
						jersey = fmt.Sprint(*e.JerseyNumber)
					}
					tw.AppendRow(table.Row{e.ID, e.DisplayName, jersey, e.Pending})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team id")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Actor roles"}
	cmd.AddCommand(actorWhoamiCmd())
	cmd.AddCommand(actorGrantCmd())
	cmd.AddCommand(actorRevokeCmd())
	return cmd
}

func actorWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current actor and whether it holds an elevated role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actor, err := ws.ResolveActor(ctx, viper.GetString("actor-id"), viper.GetStringSlice("role")...)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id": actor.ID,
					"roles":    actor.Roles,
					"elevated": actor.HasRole(ws.Config.Permissions.ElevatedRoles...),
				})
			})
		},
	}
}

func actorGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Repo.GrantRole(ctx, target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Repo.RevokeRole(ctx, target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name, target string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = viper.GetString("actor-id")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				key, plain, err := ws.Repo.CreateAPIKey(ctx, target, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      plain,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	cmd.Flags().StringVar(&target, "actor", "", "actor id (defaults to --actor-id)")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys of an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = viper.GetString("actor-id")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				keys, err := ws.Repo.ListAPIKeys(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id (defaults to --actor-id)")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Repo.RevokeAPIKey(ctx, args[0])
			})
		},
	}
}
