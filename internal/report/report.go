// Package report publishes scheduler progress while a batch runs.
//
// A Sink receives one call per executed round and one call when the whole
// frame is done. Sinks are plugged into the driver through Observer, so
// reporting never sits on the scheduling path itself: a sink that fails to
// deliver logs the problem and carries on.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/vk/wavefront/internal/scheduler"
)

// Summary describes a finished frame.
type Summary struct {
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Batches      int            `json:"batches"`
	Rounds       int            `json:"rounds"`
	ConfigErrors int            `json:"configErrors"`
	Outcomes     map[string]int `json:"outcomes"`
	Duration     time.Duration  `json:"duration"`
}

// Sink receives progress events.
type Sink interface {
	Round(ctx context.Context, stats scheduler.RoundStats)
	Finished(ctx context.Context, summary Summary)
	Close() error
}

// Observer adapts a sink to the driver's per-round hook.
func Observer(s Sink) scheduler.Observer {
	return scheduler.ObserverFunc(s.Round)
}

// Multi fans every event out to all of its sinks in order.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Round(ctx context.Context, stats scheduler.RoundStats) {
	for _, s := range m {
		s.Round(ctx, stats)
	}
}

func (m Multi) Finished(ctx context.Context, summary Summary) {
	for _, s := range m {
		s.Finished(ctx, summary)
	}
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
