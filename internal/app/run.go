package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/wavefront/internal/ctxlog"
)

// Run renders the frame, reports it and writes the image if requested.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer func() {
		err = errors.Join(err, a.closeHealthCheckServer())
	}()

	a.sink = a.openSinks(ctx)
	defer func() {
		err = errors.Join(err, a.sink.Close())
		a.sink = nil
	}()

	a.state.Store(stateRendering)
	frame, err := a.renderer.Render(ctx)
	a.frame = frame
	if err != nil {
		a.state.Store(stateFailed)
		return fmt.Errorf("rendering failed: %w", err)
	}
	a.state.Store(stateDone)
	a.sink.Finished(ctx, summarize(frame))

	if a.config.Output != "" {
		if err := writeImage(a.config.Output, frame.Image()); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		a.logger.Info("🖼️ Image written.", "path", a.config.Output)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}
