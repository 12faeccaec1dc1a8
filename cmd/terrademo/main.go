// Command terrademo drives a terra tile cache headlessly: a camera orbits
// the planet while the cache streams, generates and evicts tiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/terra"
	"github.com/gogpu/terra/backend"
	_ "github.com/gogpu/terra/backend/native"
	_ "github.com/gogpu/terra/backend/software"
	"github.com/gogpu/terra/config"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		frames     = flag.Int("frames", -1, "frames to run, 0 runs until interrupted (default from config)")
		seed       = flag.Int64("seed", 0, "terrain seed (default from config)")
		backendArg = flag.String("backend", "", "GPU backend: auto, native or software (default from config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *frames >= 0 {
		cfg.Demo.Frames = *frames
	}
	if *seed != 0 {
		cfg.Demo.Seed = *seed
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}

	handler, err := cfg.Log.Handler(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(handler)
	terra.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("terrademo failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	table := layer.DefaultTable()
	if cfg.Demo.SeedStore {
		store = newSeedingStore(store, &table, cfg.Demo.Seed)
	}

	dev, err := backend.Open(cfg.Backend)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()
	logger.Info("device opened", "backend", dev.Name())

	opts := []terra.Option{
		terra.WithContext(ctx),
		terra.WithLayers(table),
		terra.WithSeed(cfg.Demo.Seed),
		terra.WithFrameBudget(cfg.Cache.FrameBudget),
		terra.WithStreamingBudget(cfg.Cache.StreamingBudget),
		terra.WithReadbackBuffers(cfg.Cache.ReadbackBuffers),
		terra.WithReadbackMaxLevel(cfg.Cache.ReadbackMaxLevel),
	}
	if cfg.Cache.StreamConcurrency > 0 {
		opts = append(opts, terra.WithStreamConcurrency(cfg.Cache.StreamConcurrency))
	}
	if len(cfg.Cache.Capacities) > 0 {
		opts = append(opts, terra.WithCapacities(cfg.Cache.Capacities))
	}
	if cfg.ShaderDir != "" {
		opts = append(opts, terra.WithShaderDir(cfg.ShaderDir))
	}

	tc, err := terra.NewTileCache(dev, store, opts...)
	if err != nil {
		return err
	}
	defer tc.Close()

	visibleMask := layer.MaskOf(layer.Heightmaps, layer.Albedo, layer.Normals)
	for frame := 0; cfg.Demo.Frames == 0 || frame < cfg.Demo.Frames; frame++ {
		if err := ctx.Err(); err != nil {
			logger.Info("interrupted", "frame", frame)
			return nil
		}

		camera := orbit(frame)
		tc.SetCamera(camera)
		if err := tc.Frame(quadtree.CameraPriority(camera)); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		vis := tc.ComputeVisible(visibleMask)

		if frame%10 == 0 {
			s := tc.Stats()
			node, _, _ := quadtree.FromCSpace(camera, 10)
			lo, hi := tc.HeightRange(node)
			logger.Info("frame",
				"frame", frame,
				"visible", len(vis),
				"resident", s.Resident,
				"capacity", s.Capacity,
				"generated", s.TilesGenerated,
				"batched", s.BatchNodes,
				"deferred", s.Deferred,
				"streaming", s.StreamInFlight,
				"readbacks", s.ReadbackOutstanding,
				"height_lo", lo,
				"height_hi", hi)
		}
	}
	logger.Info("done", "stats", tc.Stats())
	return nil
}

// orbit returns the camera position for a frame: a low equatorial orbit
// that descends towards the surface and climbs back.
func orbit(frame int) [3]float64 {
	angle := float64(frame) * 0.002
	altitude := 2000 + 48000*(0.5+0.5*math.Cos(float64(frame)*0.01))
	r := quadtree.PlanetRadius + altitude
	return [3]float64{r * math.Cos(angle), r * 0.1 * math.Sin(angle*3), r * math.Sin(angle)}
}
