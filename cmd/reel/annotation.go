package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reelmark/internal/app"
	"reelmark/internal/auth"
	"reelmark/internal/domain"
	"reelmark/internal/drawing"
	"reelmark/internal/playback"
	"reelmark/internal/timeline"
)

func annotationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "annotation",
		Aliases: []string{"event"},
		Short:   "Inspect and manage annotations",
	}
	cmd.AddCommand(annotationListCmd())
	cmd.AddCommand(annotationShowCmd())
	cmd.AddCommand(annotationDeleteCmd())
	cmd.AddCommand(annotationRestoreCmd())
	cmd.AddCommand(annotationLogCmd())
	return cmd
}

func annotationListCmd() *cobra.Command {
	var videoID string
	var deleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the annotations of a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				list := ws.Repo.ListAnnotations
				if deleted {
					list = ws.Repo.ListDeleted
				}
				items, err := list(ctx, videoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "At", "Title", "Components", "Marker", "Created by"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, playback.FormatTime(a.TimestampStart), displayTitle(a), kindList(a), timeline.MarkerColor(a), a.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&videoID, "video", "", "video id")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "list soft-deleted annotations")
	_ = cmd.MarkFlagRequired("video")
	return cmd
}

func annotationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an annotation with its components",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				a, err := ws.Repo.GetAnnotation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func annotationDeleteCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an annotation (--purge removes it for good)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actor, a, err := authorize(ctx, ws, auth.ActionDelete, args[0])
				if err != nil {
					return err
				}
				if purge {
					return ws.Repo.PurgeAnnotation(ctx, a.ID, actor.ID)
				}
				return ws.Repo.SoftDeleteAnnotation(ctx, a.ID, actor.ID)
			})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "remove the row and its components")
	return cmd
}

func annotationRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a soft-deleted annotation (elevated roles only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actor, a, err := authorize(ctx, ws, auth.ActionRestore, args[0])
				if err != nil {
					return err
				}
				restored, err := ws.Repo.RestoreAnnotation(ctx, a.ID, actor.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(restored)
			})
		},
	}
}

func annotationLogCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Tail the annotation audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Repo.LatestEvents(ctx, n, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"#", "When", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func drawingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "drawing", Short: "Drawing components"}
	cmd.AddCommand(drawingExportCmd())
	return cmd
}

func drawingExportCmd() *cobra.Command {
	var out string
	var width, height int
	cmd := &cobra.Command{
		Use:   "export <annotation-id>",
		Short: "Replay a stored drawing at a target size into a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				a, err := ws.Repo.GetAnnotation(ctx, args[0])
				if err != nil {
					return err
				}
				if a.Drawing == nil {
					return fmt.Errorf("annotation %s has no drawing", a.ID)
				}
				w, h := width, height
				if w <= 0 {
					w = a.Drawing.OriginalWidth
				}
				if h <= 0 {
					h = a.Drawing.OriginalHeight
				}
				img, err := drawing.Render(*a.Drawing, w, h)
				if err != nil {
					return err
				}
				if out == "" {
					out = a.ID + ".png"
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := png.Encode(f, img); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("Wrote %dx%d drawing to %s\n", w, h, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <id>.png)")
	cmd.Flags().IntVar(&width, "width", 0, "target width (default: original canvas width)")
	cmd.Flags().IntVar(&height, "height", 0, "target height (default: original canvas height)")
	return cmd
}

// authorize resolves the acting user and applies the permission rule to id.
func authorize(ctx context.Context, ws *app.Workspace, action, id string) (domain.Actor, domain.Annotation, error) {
	actor, err := ws.ResolveActor(ctx, viper.GetString("actor-id"), viper.GetStringSlice("role")...)
	if err != nil {
		return actor, domain.Annotation{}, err
	}
	a, err := ws.Repo.GetAnnotation(ctx, id)
	if err != nil {
		return actor, a, err
	}
	policy := auth.Policy{ElevatedRoles: ws.Config.Permissions.ElevatedRoles}
	return actor, a, policy.Check(action, actor, a)
}

func displayTitle(a domain.Annotation) string {
	if a.Title == "" {
		return "Untitled event"
	}
	return a.Title
}

func kindList(a domain.Annotation) string {
	kinds := a.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return strings.Join(out, ",")
}
