package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"reelmark/internal/app"
	"reelmark/internal/authoring"
	"reelmark/internal/config"
	"reelmark/internal/domain"
	"reelmark/internal/drawing"
	"reelmark/internal/playback"
	"reelmark/internal/playback/backend"
	"reelmark/internal/playback/local"
	"reelmark/internal/store"
	"reelmark/internal/timeline"
	reelsdk "reelmark/sdk/go"
)

type reviewOptions struct {
	VideoID      string
	TeamID       string
	Width        int
	Height       int
	Remote       string
	APIKey       string
	Token        string
	BridgeURL    string
	NoProbe      bool
	RefreshEvery time.Duration
}

func reviewCmd() *cobra.Command {
	var opts reviewOptions
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run a scripted review session read from stdin",
		Long: `Opens a video and reads one command per line from stdin. Type 'help' for the list.
Annotations are written to the workspace database, or to a Reelmark server with --remote.
Changes to reel.yml (auto-pause, elevated roles, track width) apply while the session runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return runReview(ctx, ws, opts, os.Stdin, os.Stdout, log)
			})
		},
	}
	cmd.Flags().StringVar(&opts.VideoID, "video", "", "video id")
	cmd.Flags().StringVar(&opts.TeamID, "team", "", "team whose roster provides mention candidates")
	cmd.Flags().IntVar(&opts.Width, "width", 1280, "player width")
	cmd.Flags().IntVar(&opts.Height, "height", 720, "player height")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "Reelmark API base URL (e.g. http://127.0.0.1:8080/v1)")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "API key for --remote (env REEL_API_KEY)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for --remote (env REEL_TOKEN)")
	cmd.Flags().StringVar(&opts.BridgeURL, "bridge", "", "websocket URL of the embedded player bridge")
	cmd.Flags().BoolVar(&opts.NoProbe, "no-probe", false, "do not run ffprobe on local files")
	cmd.Flags().DurationVar(&opts.RefreshEvery, "refresh", 10*time.Second, "refetch annotations from the remote this often (0 disables)")
	_ = cmd.MarkFlagRequired("video")
	_ = viper.BindPFlag("api-key", cmd.Flags().Lookup("api-key"))
	_ = viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	return cmd
}

func runReview(ctx context.Context, ws *app.Workspace, opts reviewOptions, in io.Reader, out io.Writer, log zerolog.Logger) error {
	remote, roster := store.Remote(ws.Repo), authoring.Roster(ws.Repo)
	var (
		video domain.Video
		actor domain.Actor
		err   error
	)
	if opts.Remote != "" {
		c := reelsdk.New(opts.Remote)
		c.APIKey = firstNonEmpty(opts.APIKey, viper.GetString("api-key"))
		c.BearerToken = firstNonEmpty(opts.Token, viper.GetString("token"))
		if actor, err = c.Actor(ctx); err != nil {
			return fmt.Errorf("remote identity: %w", err)
		}
		if video, err = c.GetVideo(ctx, opts.VideoID); err != nil {
			return err
		}
		remote, roster = c, c
	} else {
		if actor, err = ws.ResolveActor(ctx, viper.GetString("actor-id"), viper.GetStringSlice("role")...); err != nil {
			return err
		}
		if video, err = ws.Repo.GetVideo(ctx, opts.VideoID); err != nil {
			return err
		}
	}

	deps := backend.Deps{
		FFprobePath:        ws.Config.Playback.FFprobePath,
		TimeUpdateInterval: ws.Config.TimeUpdateInterval(),
		BridgeURL:          opts.BridgeURL,
		PollInterval:       ws.Config.PollInterval(),
		Log:                log,
	}
	if opts.NoProbe && video.SourceKind == domain.SourceLocal {
		deps.Element = local.NewFileElement(nil, ws.Config.TimeUpdateInterval())
	}
	s, err := newReviewSession(ctx, ws.Config, actor, remote, roster, video, deps, opts, out, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Remote == "" && video.Duration == 0 && s.player.Duration() > 0 {
		if err := ws.Repo.UpdateVideoDuration(ctx, video.ID, s.player.Duration()); err != nil {
			log.Warn().Err(err).Msg("record video duration")
		}
	}
	s.watchConfig(config.Path(ws.Dir))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.runScript(ctx, in)
	})
	if opts.RefreshEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.RefreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := s.store.Refresh(ctx); err != nil && ctx.Err() == nil {
						log.Warn().Err(err).Msg("refresh annotations")
					}
				}
			}
		})
	}
	return g.Wait()
}

// reviewSession wires one player, drawing surface, annotation store,
// authoring controller and timeline for a single video.
type reviewSession struct {
	out       io.Writer
	log       zerolog.Logger
	video     domain.Video
	container *playback.Container
	player    playback.Adapter
	surface   *drawing.Surface
	store     *store.Store
	ctrl      *authoring.Controller
	timeline  *timeline.View
	last      string
	unsubs    []func()
}

func newReviewSession(ctx context.Context, cfg *config.Config, actor domain.Actor, remote store.Remote, roster authoring.Roster,
	video domain.Video, deps backend.Deps, opts reviewOptions, out io.Writer, log zerolog.Logger) (*reviewSession, error) {
	st, err := store.New(remote, video.ID, store.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := st.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	player, err := backend.New(video, deps)
	if err != nil {
		return nil, err
	}
	s := &reviewSession{out: out, log: log, video: video, store: st, player: player}
	s.unsubs = append(s.unsubs,
		player.OnError(func(msg string) { fmt.Fprintf(out, "player error: %s\n", msg) }),
		player.OnEnded(func() { fmt.Fprintln(out, "ended") }),
	)
	s.container = playback.NewContainer("review-"+video.ID, opts.Width, opts.Height)
	if err := player.Initialize(ctx, s.container); err != nil {
		player.Destroy()
		return nil, err
	}

	s.surface = drawing.New(opts.Width, opts.Height, surfaceOptions(cfg))
	s.unsubs = append(s.unsubs, s.container.OnResize(s.surface.Resize))
	s.ctrl = authoring.New(authoring.Config{
		Actor:         actor,
		ElevatedRoles: cfg.Permissions.ElevatedRoles,
		AutoPause:     cfg.Preferences.AutoPause,
		TeamID:        opts.TeamID,
	}, authoring.Deps{
		Player:  player,
		Surface: s.surface,
		Store:   st,
		Roster:  roster,
		Log:     log,
		Notify: func(n authoring.Notice) {
			fmt.Fprintf(out, "! %s\n", n)
		},
	})
	s.timeline = timeline.New(st, player, s.ctrl, timeline.Options{
		TrackWidth:    cfg.Timeline.TrackWidth,
		CategoryColor: cfg.CategoryColor,
		Log:           log,
	})
	log.Info().Str("video_id", video.ID).Str("actor_id", actor.ID).Int("annotations", len(st.Annotations())).Msg("review session ready")
	return s, nil
}

func surfaceOptions(cfg *config.Config) drawing.Options {
	opts := drawing.DefaultOptions()
	if c, err := drawing.ParseHexColor(cfg.Drawing.StrokeColor); err == nil {
		opts.Color = c
	}
	if cfg.Drawing.StrokeWidth > 0 {
		opts.Width = cfg.Drawing.StrokeWidth
	}
	opts.MaxHistory = cfg.Drawing.MaxHistory
	return opts
}

func (s *reviewSession) Close() {
	for _, u := range s.unsubs {
		u()
	}
	s.timeline.Close()
	s.ctrl.Close()
	s.player.Destroy()
	s.container.Detach()
}

// watchConfig pushes preference changes from reel.yml into the running session.
func (s *reviewSession) watchConfig(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("config not watched")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := config.FromFile(path)
		if err != nil {
			s.log.Warn().Err(err).Msg("ignoring invalid config change")
			return
		}
		s.ctrl.UpdatePreferences(cfg.Preferences.AutoPause, cfg.Permissions.ElevatedRoles)
		s.timeline.SetTrackWidth(cfg.Timeline.TrackWidth)
		s.log.Info().Str("file", e.Name).Msg("preferences reloaded")
	})
	v.WatchConfig()
}

func (s *reviewSession) runScript(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := s.exec(ctx, line); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if v := s.ctrl.View(); v.AnnotationID != "" {
			s.last = v.AnnotationID
		}
	}
	return scanner.Err()
}

const reviewHelp = `player:   play | pause | seek <t> | wait <seconds> | time | volume <0-1> | mute | unmute | resize <w> <h>
author:   add | quick-note | quick-loop | quick-draw | open <kind> | title <text> | remove <kind>
editors:  note <text> | loop <start> <end> [name] | tags <name:category,...> | mentions <id,...> | candidates
drawing:  stroke <x1> <y1> <x2> <y2> [...] | undo | clear | save-drawing
panel:    cancel | minimize | restore | close | view
present:  run <id> | stop | edit <id> | delete <id> | confirm | keep
timeline: markers | hover <id> | click <id> | hit <x> | refresh
          '@last' stands for the most recent annotation id; times accept seconds or m:ss`

func (s *reviewSession) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))
	for i, a := range args {
		if a == "@last" {
			args[i] = s.last
		}
	}
	switch cmd {
	case "help":
		fmt.Fprintln(s.out, reviewHelp)
	case "play":
		return s.player.Play()
	case "pause":
		return s.player.Pause()
	case "seek":
		t, err := argTime(args, 0)
		if err != nil {
			return err
		}
		return s.player.Seek(t)
	case "wait":
		t, err := argTime(args, 0)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(t * float64(time.Second))):
		}
	case "time":
		fmt.Fprintf(s.out, "%s / %s\n", playback.FormatTime(s.player.CurrentTime()), playback.FormatTime(s.player.Duration()))
	case "volume":
		v, err := argFloat(args, 0)
		if err != nil {
			return err
		}
		return s.player.SetVolume(v)
	case "mute":
		return s.player.Mute()
	case "unmute":
		return s.player.Unmute()
	case "resize":
		w, err := argFloat(args, 0)
		if err != nil {
			return err
		}
		h, err := argFloat(args, 1)
		if err != nil {
			return err
		}
		s.container.Resize(int(w), int(h))

	case "add":
		return s.created(s.ctrl.AddEvent(ctx))
	case "quick-note":
		return s.created(s.ctrl.QuickNote(ctx))
	case "quick-loop":
		return s.created(s.ctrl.QuickLoop(ctx))
	case "quick-draw":
		return s.ctrl.QuickDraw()
	case "open":
		kind, err := argKind(args)
		if err != nil {
			return err
		}
		return s.ctrl.OpenEditor(kind)
	case "title":
		return s.ctrl.SetTitle(ctx, rest)
	case "remove":
		kind, err := argKind(args)
		if err != nil {
			return err
		}
		return s.ctrl.RemoveComponent(ctx, kind)

	case "note":
		if err := s.ensureEditor(domain.KindNote); err != nil {
			return err
		}
		return s.saved(s.ctrl.SaveNote(ctx, rest))
	case "loop":
		start, err := argTime(args, 0)
		if err != nil {
			return err
		}
		end, err := argTime(args, 1)
		if err != nil {
			return err
		}
		if err := s.ensureEditor(domain.KindLoop); err != nil {
			return err
		}
		return s.saved(s.ctrl.SaveLoop(ctx, domain.Loop{Start: start, End: end, Name: strings.Join(args[2:], " ")}))
	case "tags":
		tags, err := parseTags(rest)
		if err != nil {
			return err
		}
		if err := s.ensureEditor(domain.KindTags); err != nil {
			return err
		}
		return s.saved(s.ctrl.SaveTags(ctx, tags))
	case "mentions":
		if err := s.ensureEditor(domain.KindMentions); err != nil {
			return err
		}
		return s.saved(s.ctrl.SaveMentions(ctx, splitList(rest)))
	case "candidates":
		entries, err := s.ctrl.MentionCandidates(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			pending := ""
			if e.Pending {
				pending = " (pending)"
			}
			fmt.Fprintf(s.out, "%s %s%s\n", e.ID, e.DisplayName, pending)
		}

	case "stroke":
		return s.stroke(args)
	case "undo":
		s.surface.Undo()
	case "clear":
		s.surface.Clear()
	case "save-drawing":
		return s.saved(s.ctrl.SaveDrawing(ctx))

	case "cancel":
		return s.ctrl.CancelEditor()
	case "minimize":
		return s.ctrl.Minimize()
	case "restore":
		return s.ctrl.Restore()
	case "close":
		return s.ctrl.CloseAuthoring(ctx)
	case "view":
		s.printView()

	case "run":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return s.ctrl.Run(ctx, args[0])
	case "stop":
		return s.ctrl.StopPresenting()
	case "edit":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return s.ctrl.Edit(ctx, args[0])
	case "delete":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		if err := s.ctrl.RequestDelete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "delete %s? (confirm | keep)\n", args[0])
	case "confirm":
		return s.ctrl.ConfirmDelete(ctx)
	case "keep":
		s.ctrl.CancelDelete()

	case "markers":
		s.printMarkers()
	case "hover":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		tip, err := s.timeline.Hover(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s @ %s\n", tip.Title, tip.Time)
		for _, b := range tip.Badges {
			fmt.Fprintf(s.out, "  [%s] %s\n", b.Kind, b.Label)
		}
		actions := make([]string, len(tip.Actions))
		for i, a := range tip.Actions {
			actions[i] = string(a)
		}
		fmt.Fprintf(s.out, "  actions: %s\n", strings.Join(actions, ", "))
	case "click":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return s.timeline.Click(args[0])
	case "hit":
		x, err := argFloat(args, 0)
		if err != nil {
			return err
		}
		m, ok := s.timeline.HitTest(x, 6)
		if !ok {
			fmt.Fprintln(s.out, "no marker")
			return nil
		}
		fmt.Fprintf(s.out, "%s %s\n", m.AnnotationID, m.Title)
	case "refresh":
		return s.store.Refresh(ctx)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (s *reviewSession) ensureEditor(kind domain.ComponentKind) error {
	if s.ctrl.View().Editor == kind {
		return nil
	}
	return s.ctrl.OpenEditor(kind)
}

func (s *reviewSession) created(a domain.Annotation, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "event %s at %s\n", a.ID, playback.FormatTime(a.TimestampStart))
	return nil
}

func (s *reviewSession) saved(a domain.Annotation, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "saved %s [%s]\n", a.ID, kindList(a))
	return nil
}

func (s *reviewSession) stroke(args []string) error {
	if len(args) < 4 || len(args)%2 != 0 {
		return errors.New("stroke needs at least two x y points")
	}
	pts := make([]float64, len(args))
	for i := range args {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q", args[i])
		}
		pts[i] = v
	}
	if !s.surface.PointerDown(pts[0], pts[1]) {
		return errors.New("drawing mode is off")
	}
	for i := 2; i+1 < len(pts)-2; i += 2 {
		s.surface.PointerMove(pts[i], pts[i+1])
	}
	s.surface.PointerUp(pts[len(pts)-2], pts[len(pts)-1])
	return nil
}

func (s *reviewSession) printView() {
	v := s.ctrl.View()
	fmt.Fprintf(s.out, "state=%s", v.State)
	if v.AnnotationID != "" {
		fmt.Fprintf(s.out, " event=%s at=%s", v.AnnotationID, playback.FormatTime(v.Timestamp))
	}
	if v.Editor != "" {
		fmt.Fprintf(s.out, " editor=%s", v.Editor)
	}
	if v.Minimized {
		fmt.Fprint(s.out, " minimized")
	}
	if v.DrawingMode {
		fmt.Fprint(s.out, " drawing")
	}
	if v.ConfirmingDelete != "" {
		fmt.Fprintf(s.out, " confirm-delete=%s", v.ConfirmingDelete)
	}
	if len(v.Components) > 0 {
		kinds := make([]string, len(v.Components))
		for i, k := range v.Components {
			kinds[i] = string(k)
		}
		fmt.Fprintf(s.out, " components=%s", strings.Join(kinds, ","))
	}
	fmt.Fprintln(s.out)
}

func (s *reviewSession) printMarkers() {
	markers := s.timeline.Markers()
	if len(markers) == 0 {
		fmt.Fprintln(s.out, "no events")
		return
	}
	for _, m := range markers {
		sel := " "
		if m.Selected {
			sel = "*"
		}
		title := m.Title
		if title == "" {
			title = "Untitled event"
		}
		fmt.Fprintf(s.out, "%s %s %6.1f%% %s %s %s\n", sel, playback.FormatTime(m.Start), m.Percent, m.Color, m.AnnotationID, title)
	}
	fmt.Fprintf(s.out, "playhead %.0f/%.0f\n", s.timeline.Playhead(), s.timeline.TrackWidth())
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d argument(s)", n)
	}
	return nil
}

func argFloat(args []string, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[i])
	}
	return v, nil
}

// argTime parses seconds, m:ss or h:mm:ss.
func argTime(args []string, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	parts := strings.Split(args[i], ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", args[i])
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid time %q", args[i])
		}
		total = total*60 + v
	}
	return total, nil
}

func argKind(args []string) (domain.ComponentKind, error) {
	if len(args) == 0 {
		return "", errors.New("component kind required")
	}
	return domain.ParseComponentKind(args[0])
}

// parseTags reads "name:category" pairs separated by commas.
func parseTags(s string) (domain.TagSet, error) {
	var tags domain.TagSet
	for _, item := range splitList(s) {
		name, cat, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("tag %q must be name:category", item)
		}
		tags = append(tags, domain.Tag{Name: strings.TrimSpace(name), Category: domain.TagCategory(strings.ToLower(strings.TrimSpace(cat)))})
	}
	return tags, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
