package report

import (
	"context"

	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/scheduler"
)

// LogSink writes progress to the logger carried by the context.
type LogSink struct{}

var _ Sink = LogSink{}

func (LogSink) Round(ctx context.Context, stats scheduler.RoundStats) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Round finished.",
		"round", stats.Round,
		"polled", stats.Polled(),
		"active", stats.Active(),
		"duration", stats.Duration,
	)
	for _, g := range stats.Groups {
		if g.SpawnFailures > 0 {
			logger.Warn("Pool capacity exhausted during round.",
				"round", stats.Round,
				"group", g.Name,
				"cap", g.Cap,
				"failures", g.SpawnFailures,
			)
		}
	}
}

func (LogSink) Finished(ctx context.Context, summary Summary) {
	ctxlog.FromContext(ctx).Info("📊 Frame summary.",
		"size", summary.Width*summary.Height,
		"batches", summary.Batches,
		"rounds", summary.Rounds,
		"config_errors", summary.ConfigErrors,
		"outcomes", summary.Outcomes,
		"duration", summary.Duration,
	)
}

func (LogSink) Close() error { return nil }
