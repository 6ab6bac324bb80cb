package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/serverbot/internal/app"
	"github.com/foxzi/serverbot/internal/config"
	"github.com/foxzi/serverbot/internal/render"
	"github.com/foxzi/serverbot/internal/status"
)

var (
	checkSession string
	checkRender  bool
	checkJSON    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch the server status once and print it",
	Long: `Look the configured server up once and print what the bot would show.
Nothing is sent to Discord. Use --render to also write the images.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkSession, "session", "", "Previous game id to fall back on")
	checkCmd.Flags().BoolVar(&checkRender, "render", false, "Also render the map images")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the status as JSON")

	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := app.SetupLogger(cfg.Logging)
	fetcher := app.NewFetcher(cfg, logger)
	ctx, cancel := context.WithTimeout(context.Background(), fetcher.Budget()+cfg.Monitor.RequestTimeout)
	defer cancel()

	st, err := fetcher.Fetch(ctx, checkSession)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		printStatus(out, st)
	}

	if !checkRender {
		return nil
	}

	renderer, err := render.New(render.Config{
		Dir:             cfg.Render.Dir,
		Variant:         cfg.Variant(),
		FavoritesMarker: cfg.Server.FavoritesMarker,
		Timeout:         cfg.Monitor.RequestTimeout,
	}, logger.With("component", "renderer"))
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	images, err := renderer.Render(ctx, st)
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Images:\n")
	fmt.Fprintf(out, "  map mode:  %s\n", images.MapMode)
	fmt.Fprintf(out, "  info:      %s\n", images.Info)
	fmt.Fprintf(out, "  favorites: %s\n", images.Favorites)
	fmt.Fprintf(out, "  selected:  %s\n", images.Selected)
	return nil
}

func printStatus(w io.Writer, st status.ServerStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Server:\t%s\n", st.ServerName)
	fmt.Fprintf(tw, "Presence:\t%s\n", st.Summary())
	fmt.Fprintf(tw, "Players:\t%d/%d\n", st.CurrentPlayers, st.MaxPlayers)
	fmt.Fprintf(tw, "Queue:\t%d\n", st.Queue)
	fmt.Fprintf(tw, "Map:\t%s (%s, %s)\n", st.MapName, st.MapMode, st.SmallMode)
	fmt.Fprintf(tw, "Region:\t%s\n", st.Region)
	fmt.Fprintf(tw, "Favorites:\t%s\n", st.Favorites)
	if st.SessionID != "" {
		fmt.Fprintf(tw, "Game ID:\t%s\n", st.SessionID)
	}
	fmt.Fprintf(tw, "Map image:\t%s\n", st.MapImageURL)
	tw.Flush()
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Configuration is valid\n")
	fmt.Fprintf(w, "  Server: %s (%s, %s, %s)\n", cfg.Server.Name, cfg.Variant(), cfg.Server.Platform, cfg.Server.Lang)
	if id := cfg.OwnerID(); id != "" {
		fmt.Fprintf(w, "  Owner ID: %s\n", id)
	}
	if id := cfg.ServerGUID(); id != "" {
		fmt.Fprintf(w, "  Server GUID: %s\n", id)
	}
	if cfg.NotificationsDisabled() {
		fmt.Fprintf(w, "  Channel: %s (notifications disabled)\n", cfg.Discord.Channel)
	} else {
		fmt.Fprintf(w, "  Channel: %s\n", cfg.Discord.Channel)
	}
	p := cfg.Params()
	fmt.Fprintf(w, "  Thresholds: min %d, window %d, started %d\n", p.MinPlayerAmount, p.WindowSize(), p.StartedAmount)
	fmt.Fprintf(w, "  Poll interval: %s\n", cfg.Monitor.Interval)
	fmt.Fprintf(w, "  Avatar interval: %s (banner %t)\n", cfg.Profile.AvatarInterval, cfg.BannerEnabled())
	fmt.Fprintf(w, "  Health: %s (stale after %s)\n", cfg.Health.ListenAddr, cfg.Health.StaleAfter.Round(time.Second))
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Storage.Path != "" {
		fmt.Fprintf(w, "  Storage: %s (restore state %t)\n", cfg.Storage.Path, cfg.Storage.RestoreState)
	}
	if cfg.Mail.Enabled {
		fmt.Fprintf(w, "  Mail: %s -> %v\n", cfg.Mail.Addr, cfg.Mail.To)
	}
}
