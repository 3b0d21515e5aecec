package app

import (
	"context"

	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/render"
	"github.com/vk/wavefront/internal/report"
)

// openSinks builds the progress sinks: the log sink always, the socket.io
// sink when a report URL is configured. A failed dial is logged and the run
// continues without it.
func (a *App) openSinks(ctx context.Context) report.Sink {
	sinks := report.Multi{report.LogSink{}}
	if a.config.ReportURL == "" {
		return sinks
	}
	sio, err := report.Dial(ctx, report.SocketIOOptions{URL: a.config.ReportURL})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Progress reporting disabled.", "url", a.config.ReportURL, "error", err)
		return sinks
	}
	return append(sinks, sio)
}

func summarize(f *render.Frame) report.Summary {
	s := report.Summary{
		Width:        f.Width,
		Height:       f.Height,
		Batches:      f.Batches,
		Rounds:       f.Rounds,
		ConfigErrors: f.ConfigErrors,
		Outcomes:     make(map[string]int, len(f.Outcomes)),
		Duration:     f.Duration,
	}
	for o, n := range f.Outcomes {
		s.Outcomes[o.String()] = n
	}
	return s
}
