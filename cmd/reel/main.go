package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reelmark/internal/app"
	"reelmark/internal/db"
	"reelmark/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "reel",
	Short: "Reelmark CLI",
	Long: `Reelmark annotates coaching videos with timestamped events.
Core concepts:
- Workspace: the .reelmark directory holding the database, next to an optional reel.yml.
- Video: a local file or an embedded third-party video, registered once in the catalog.
- Event: a timestamped annotation on a video; a draft until it has a title or a component.
- Components: drawing, note, loop, tags and player mentions; at most one of each per event.
- Permissions: the creator of an event or an elevated role (reel.yml permissions.elevated_roles) may change it.
- Review: a scripted session driving the player, drawing surface, authoring panel and timeline.
- Event log: audit trail of every annotation write, view with 'reel annotation log'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringSlice("role", nil, "extra roles for this invocation")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error, off)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human readable logs")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(videoCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(annotationCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(drawingCmd())
	rootCmd.AddCommand(reviewCmd())
}

// --- helpers ---

func newLogger() zerolog.Logger {
	return logging.New(os.Stderr, viper.GetString("log-level"), viper.GetBool("log-pretty"))
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}
