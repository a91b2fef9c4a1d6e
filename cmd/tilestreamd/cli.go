package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tilestream/internal/common/fsutil"
	"tilestream/internal/config"
	"tilestream/internal/httpapi"
	"tilestream/internal/pyramid"
	"tilestream/internal/tileservice"
	"tilestream/internal/tilestore"
	"tilestream/pkg/types"
)

var version = "dev"

const watchSettle = 500 * time.Millisecond

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "tilestreamd",
		Short:         "Tile pyramid server for very large images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", os.Getenv("TILESTREAM_CONFIG"), "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")

	root.AddCommand(newServeCmd(rf), newIngestCmd(rf), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tilestreamd version %s\n", version)
		},
	}
}

// loadConfig reads the config file if one is named and fills defaults.
func loadConfig(rf *rootFlags) (config.Config, error) {
	var cfg config.Config
	if rf.configPath != "" {
		p, err := fsutil.ExpandHome(rf.configPath)
		if err != nil {
			return cfg, err
		}
		if cfg, err = config.Load(p); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	cfg = config.ApplyDefaults(cfg)
	if rf.logLevel != "" {
		cfg.LogLevel = rf.logLevel
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// openService opens the configured store and wraps it in a Service.
func openService(cfg config.Config, log zerolog.Logger) (*tileservice.Service, error) {
	dir, err := fsutil.ExpandHome(cfg.StoreDir)
	if err != nil {
		return nil, err
	}
	store, err := tilestore.Open(cfg.StoreBackend, dir)
	if err != nil {
		return nil, err
	}
	svc, err := tileservice.New(tileservice.ServiceConfig{
		Store:         store,
		StoreBackend:  cfg.StoreBackend,
		Pyramid:       pyramid.Options{ChunkSize: cfg.ChunkSize, MinSize: cfg.MinSize, Filter: cfg.Filter},
		HotCacheBytes: int64(cfg.HotCacheMB) << 20,
		Logger:        log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}

type serveFlags struct {
	addr        string
	sourceDir   string
	watch       bool
	store       string
	storeDir    string
	hotCacheMB  int
	corsOrigins string
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	sf := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve committed pyramids over HTTP and ingest the source directory",
		Example: "  tilestreamd serve --source-dir ~/slides --watch\n" +
			"  tilestreamd serve --config tilestream.yaml --addr :9090",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			sf.apply(cmd, &cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel))
		},
	}
	f := cmd.Flags()
	f.StringVar(&sf.addr, "addr", "", "HTTP listen address, e.g. :8080")
	f.StringVar(&sf.sourceDir, "source-dir", "", "Directory scanned for source images")
	f.BoolVar(&sf.watch, "watch", false, "Ingest new source images as they appear")
	f.StringVar(&sf.store, "store", "", "Tile store backend: memory|fs|sqlite")
	f.StringVar(&sf.storeDir, "store-dir", "", "Tile store directory")
	f.IntVar(&sf.hotCacheMB, "hot-cache-mb", 0, "Encoded tile cache size in MB (negative disables)")
	f.StringVar(&sf.corsOrigins, "cors-origins", "", "Comma-separated allowed origins; enables CORS")
	return cmd
}

// apply copies explicitly set flags over file values.
func (sf *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr = sf.addr
	}
	if f.Changed("source-dir") {
		cfg.SourceDir = sf.sourceDir
	}
	if f.Changed("watch") {
		cfg.Watch = sf.watch
	}
	if f.Changed("store") {
		cfg.StoreBackend = sf.store
	}
	if f.Changed("store-dir") {
		cfg.StoreDir = sf.storeDir
	}
	if f.Changed("hot-cache-mb") {
		cfg.HotCacheMB = sf.hotCacheMB
	}
	if f.Changed("cors-origins") {
		cfg.CORS.Origins = splitCSV(sf.corsOrigins)
		cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
	}
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	svc, err := openService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	hub := httpapi.NewHub()
	defer hub.Close()
	svc.SetEventPublisher(tileservice.MultiPublisher{hub, logPublisher{log}})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetIngestTimeoutSeconds(cfg.IngestTimeout)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	httpapi.SetEventHub(hub)

	srcDir, err := fsutil.ExpandHome(cfg.SourceDir)
	if err != nil {
		return err
	}
	if fsutil.PathExists(srcDir) {
		// watch first: files added during the scan must still be seen
		if cfg.Watch {
			if err := svc.WatchDir(ctx, srcDir, watchSettle); err != nil {
				return err
			}
		}
		go func() {
			imgs, err := svc.IngestDir(ctx, srcDir)
			if err != nil {
				log.Warn().Err(err).Str("dir", srcDir).Msg("initial scan")
			}
			log.Info().Int("ingested", len(imgs)).Str("dir", srcDir).Msg("initial scan done")
		}()
	} else {
		log.Warn().Str("dir", srcDir).Msg("source directory not found; ingest via POST /ingest")
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreBackend).Str("source_dir", srcDir).Msg("tilestreamd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}

// logPublisher mirrors service events into the log.
type logPublisher struct{ log zerolog.Logger }

func (p logPublisher) Publish(e tileservice.Event) {
	p.log.Debug().Str("event", e.Name).Str("image", e.ImageID).Fields(e.Fields).Msg("event")
}

func newIngestCmd(rf *rootFlags) *cobra.Command {
	var store, storeDir, imageID string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Build and commit pyramids for source images or directories",
		Example: "  tilestreamd ingest ~/slides/slide-0042.tiff\n" +
			"  tilestreamd ingest --id scan ~/Downloads/big.png",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.StoreBackend = store
			}
			if cmd.Flags().Changed("store-dir") {
				cfg.StoreDir = storeDir
			}
			if imageID != "" && len(args) > 1 {
				return fmt.Errorf("--id needs exactly one path")
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			svc, err := openService(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()
			return runIngest(cmd.Context(), cmd.OutOrStdout(), svc, args, imageID)
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Tile store backend: memory|fs|sqlite")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "Tile store directory")
	cmd.Flags().StringVar(&imageID, "id", "", "Image id (defaults to the file name)")
	return cmd
}

func runIngest(ctx context.Context, out io.Writer, svc *tileservice.Service, paths []string, imageID string) error {
	var errs []error
	for _, p := range paths {
		path, err := fsutil.ExpandHome(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var descs []types.ImageDescriptor
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			descs, err = svc.IngestDir(ctx, path)
			if err != nil {
				errs = append(errs, err)
			}
		} else {
			d, err := svc.Ingest(ctx, types.IngestRequest{Path: path, ImageID: imageID})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				continue
			}
			descs = append(descs, d)
		}
		for _, d := range descs {
			fmt.Fprintf(out, "%s\t%dx%d\t%d levels\t%d tiles\n", d.ImageID, d.Width, d.Height, len(d.Levels), d.TotalChunks)
		}
	}
	return errors.Join(errs...)
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
