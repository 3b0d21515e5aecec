package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/vk/wavefront/internal/config"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/render"
	"github.com/vk/wavefront/internal/report"
	"github.com/vk/wavefront/internal/scheduler"
)

// Run states reported by the status endpoint.
const (
	stateIdle      = "idle"
	stateRendering = "rendering"
	stateDone      = "done"
	stateFailed    = "failed"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	ctx      context.Context
	config   *Config
	model    *config.Model
	renderer *render.Renderer

	sink       report.Sink
	httpServer *http.Server
	state      atomic.Value
	frame      *render.Frame
}

// NewApp is the constructor for the main application. It loads the scene,
// builds the acceleration structure and the renderer. Startup failures are
// fatal and panic; the entrypoint recovers them.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	// Load all configuration into the format-agnostic model first.
	model, err := loader.Load(ctx, appConfig.ScenePaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	scene, err := buildScene(model)
	if err != nil {
		panic(fmt.Errorf("failed to build scene: %w", err))
	}
	sbt, err := buildSBT(model)
	if err != nil {
		panic(fmt.Errorf("failed to build shader binding table: %w", err))
	}

	builder := model.Batch.Builder
	if appConfig.Builder != "" {
		builder = appConfig.Builder
	}
	opts := renderOptions(model, appConfig)
	tr, err := buildTraverser(ctx, scene, builder, opts.Lanes)
	if err != nil {
		panic(fmt.Errorf("failed to build acceleration structure: %w", err))
	}
	logger.Debug("Scene prepared.", "meshes", len(scene.Meshes), "instances", len(scene.Instances), "builder", builder)

	a := &App{
		outW:   outW,
		logger: logger,
		ctx:    ctx,
		config: appConfig,
		model:  model,
	}
	a.state.Store(stateIdle)
	opts.Observer = scheduler.ObserverFunc(a.observeRound)

	a.renderer, err = render.New(scene, tr, sbt, opts)
	if err != nil {
		panic(fmt.Errorf("failed to create renderer: %w", err))
	}
	logger.Debug("Renderer created.", "lanes", a.renderer.Driver().Lanes())
	return a
}

// observeRound forwards every round to the active sink.
func (a *App) observeRound(ctx context.Context, stats scheduler.RoundStats) {
	if a.sink != nil {
		a.sink.Round(ctx, stats)
	}
}

// Model returns the loaded configuration. This is primarily for testing.
func (a *App) Model() *config.Model { return a.model }

// Renderer returns the application's renderer. This is primarily for testing.
func (a *App) Renderer() *render.Renderer { return a.renderer }

// Frame returns the last rendered frame, or nil before Run.
func (a *App) Frame() *render.Frame { return a.frame }
