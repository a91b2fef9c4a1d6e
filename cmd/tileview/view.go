package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"

	"tilestream/internal/config"
	"tilestream/internal/gpu"
	"tilestream/internal/lod"
	"tilestream/internal/prefetch"
	"tilestream/internal/render"
	"tilestream/internal/tilecache"
	"tilestream/internal/tileclient"
	"tilestream/internal/viewport"
	"tilestream/pkg/types"
)

type viewOptions struct {
	Viewer        config.ViewerConfig
	Server        string
	ImageID       string
	Frames        int
	PanX, PanY    float64
	ZoomRate      float64
	Zoom          float64
	Width, Height int
	UntilComplete bool
	Snapshot      string
	Logger        zerolog.Logger
}

// viewResult is what a run reports.
type viewResult struct {
	Image  types.ImageDescriptor
	Frames int
	Last   render.FrameStats
	Cache  tilecache.Stats
}

func runViewer(ctx context.Context, o viewOptions, out io.Writer) error {
	res, backend, err := view(ctx, o)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "image %s (%dx%d, %d levels)\n", res.Image.ImageID, res.Image.Width, res.Image.Height, res.Image.LevelCount())
	fmt.Fprintf(out, "frames %d  level %d  visible %d  drawn %d  pending %d  fallbacks %d\n",
		res.Frames, res.Last.Level, res.Last.Visible, res.Last.Drawn, res.Last.Pending, res.Last.Fallbacks)
	fmt.Fprintf(out, "cache fetches %d  failures %d  cancelled %d  evictions cpu=%d gpu=%d  textures %d\n",
		res.Cache.Fetches, res.Cache.Failures, res.Cache.Cancelled, res.Cache.CPUEvictions, res.Cache.GPUEvictions, res.Cache.Textures)
	if o.Snapshot == "" {
		return nil
	}
	f, err := os.Create(o.Snapshot)
	if err != nil {
		return err
	}
	if err := backend.WritePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return f.Close()
}

// view renders o.Frames frames into a software backend.
func view(ctx context.Context, o viewOptions) (viewResult, *gpu.Software, error) {
	var res viewResult
	v := o.Viewer
	if o.Width <= 0 || o.Height <= 0 {
		return res, nil, errors.New("viewport size must be positive")
	}
	client := tileclient.New(o.Server, tileclient.Options{Retries: v.FetchRetries, Logger: o.Logger})
	desc, err := pickImage(ctx, client, o.ImageID)
	if err != nil {
		return res, nil, err
	}
	res.Image = desc

	backend := gpu.NewSoftware(o.Width, o.Height)
	cache := tilecache.New(client, backend, tilecache.Config{
		CPUBudgetBytes:      int64(v.CPUBudgetMB) << 20,
		GPUBudgetBytes:      int64(v.GPUBudgetMB) << 20,
		MaxTextures:         v.MaxTextures,
		LowWater:            v.LowWater,
		CancelAfterFrames:   v.CancelAfterFrames,
		MaxPrefetchInFlight: v.MaxPrefetchInFlight,
		PrefetchRate:        v.PrefetchRate,
		Logger:              o.Logger,
	})
	defer cache.Close()

	interval := render.DefaultFrameInterval
	if v.TargetFPS > 0 {
		interval = time.Second / time.Duration(v.TargetFPS)
	}
	var last render.FrameStats
	sched := render.New(desc, cache, backend, render.Config{
		Selector:      lod.Selector{MaxMagnification: v.MaxMagnification, Bias: lod.NewFrameRateBias()},
		Prefetcher:    prefetch.Prefetcher{},
		CrossFade:     time.Duration(v.CrossFadeMS) * time.Millisecond,
		FrameInterval: interval,
		HistorySize:   v.HistorySize,
		Logger:        o.Logger,
		OnFrame: func(st render.FrameStats) {
			last = st
			o.Logger.Debug().Uint64("frame", st.Frame).Int("level", st.Level).Int("visible", st.Visible).
				Int("drawn", st.Drawn).Int("fallbacks", st.Fallbacks).Int("prefetched", st.Prefetched).
				Dur("elapsed", st.Elapsed).Msg("frame")
		},
	})

	vp := fit(desc, o.Width, o.Height, o.Zoom)
	frames := 0
	err = sched.Run(ctx, func(time.Time) (viewport.State, bool) {
		if frames >= o.Frames || (o.UntilComplete && frames > 0 && last.Complete() && last.Visible > 0) {
			return vp, false
		}
		if frames > 0 {
			vp = vp.Pan(o.PanX, o.PanY)
			if o.ZoomRate > 0 && o.ZoomRate != 1 {
				vp = vp.ZoomAt(o.ZoomRate, float64(o.Width)/2, float64(o.Height)/2)
			}
		}
		frames++
		return vp, true
	})
	if err != nil {
		return res, nil, err
	}
	res.Frames = frames
	res.Last = last
	res.Cache = cache.Stats()
	return res, backend, nil
}

func pickImage(ctx context.Context, c *tileclient.Client, id string) (types.ImageDescriptor, error) {
	if id != "" {
		return c.Descriptor(ctx, id)
	}
	imgs, err := c.ListImages(ctx)
	if err != nil {
		return types.ImageDescriptor{}, err
	}
	if len(imgs) == 0 {
		return types.ImageDescriptor{}, errors.New("server has no images")
	}
	return imgs[0], nil
}

// fit centres the image; zoom 0 scales it to fit the viewport.
func fit(d types.ImageDescriptor, w, h int, zoom float64) viewport.State {
	if !(zoom > 0) {
		zoom = math.Min(float64(w)/float64(d.Width), float64(h)/float64(d.Height))
	}
	return viewport.FromScreen(
		float64(d.Width)/2-float64(w)/zoom/2,
		float64(d.Height)/2-float64(h)/zoom/2,
		w, h, zoom)
}
