package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tilestream/internal/common/fsutil"
	"tilestream/internal/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tileview",
		Short:         "Headless tile pyramid viewer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tileview version %s\n", version)
		},
	})
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		pan        string
		opts       viewOptions
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render frames of an image from a tilestreamd server",
		Example: "  tileview run --image slide-0042 --frames 300 --pan 4,0 --snapshot out.png\n" +
			"  tileview run --server http://tiles:8080 --zoom-rate 1.02 --until-complete",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg config.Config
			if configPath != "" {
				p, err := fsutil.ExpandHome(configPath)
				if err != nil {
					return err
				}
				if cfg, err = config.Load(p); err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			cfg = config.ApplyDefaults(cfg)
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			opts.Viewer = cfg.Viewer
			if opts.Server == "" {
				opts.Server = cfg.Viewer.Server
			}
			if opts.Width <= 0 {
				opts.Width = cfg.Viewer.ViewportWidth
			}
			if opts.Height <= 0 {
				opts.Height = cfg.Viewer.ViewportHeight
			}
			dx, dy, err := parsePan(pan)
			if err != nil {
				return err
			}
			opts.PanX, opts.PanY = dx, dy
			opts.Logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			return runViewer(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", os.Getenv("TILESTREAM_CONFIG"), "Config file (.yaml, .json or .toml)")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	f.StringVar(&opts.Server, "server", "", "tilestreamd base URL (overrides config)")
	f.StringVar(&opts.ImageID, "image", "", "Image id (defaults to the first image on the server)")
	f.IntVar(&opts.Frames, "frames", 120, "Number of frames to render")
	f.StringVar(&pan, "pan", "0,0", "Pan per frame in screen pixels, dx,dy")
	f.Float64Var(&opts.ZoomRate, "zoom-rate", 1, "Zoom factor applied per frame about the screen centre")
	f.Float64Var(&opts.Zoom, "zoom", 0, "Initial zoom (0 fits the image)")
	f.IntVar(&opts.Width, "width", 0, "Viewport width in pixels (overrides config)")
	f.IntVar(&opts.Height, "height", 0, "Viewport height in pixels (overrides config)")
	f.BoolVar(&opts.UntilComplete, "until-complete", false, "Stop early once a frame is drawn at full detail")
	f.StringVar(&opts.Snapshot, "snapshot", "", "Write the last frame to this PNG file")
	return cmd
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func parsePan(s string) (dx, dy float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid --pan %q: want dx,dy", s)
	}
	if dx, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("invalid --pan %q: %w", s, err)
	}
	if dy, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("invalid --pan %q: %w", s, err)
	}
	return dx, dy, nil
}
