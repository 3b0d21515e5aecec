package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/scheduler"
	sioserver "github.com/zishang520/socket.io/v2/socket"
)

type recordingSink struct {
	rounds   []int
	finished []Summary
	closeErr error
}

func (r *recordingSink) Round(_ context.Context, s scheduler.RoundStats) {
	r.rounds = append(r.rounds, s.Round)
}

func (r *recordingSink) Finished(_ context.Context, s Summary) {
	r.finished = append(r.finished, s)
}

func (r *recordingSink) Close() error { return r.closeErr }

func sampleStats(round int) scheduler.RoundStats {
	return scheduler.RoundStats{
		Round:    round,
		Duration: time.Millisecond,
		Groups: []scheduler.GroupStats{
			{Name: "raygen", Type: 0, Cap: 4, Active: 2, Polled: 4},
			{Name: "trace", Type: 1, Cap: 2, Active: 1, Polled: 2, SpawnFailures: 2},
		},
	}
}

func TestMulti(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{closeErr: errors.New("b failed")}
	m := Multi{a, b}
	ctx := context.Background()

	obs := Observer(m)
	obs.ObserveRound(ctx, sampleStats(1))
	obs.ObserveRound(ctx, sampleStats(2))
	m.Finished(ctx, Summary{Width: 2, Height: 2})

	for _, s := range []*recordingSink{a, b} {
		assert.Equal(t, []int{1, 2}, s.rounds)
		require.Len(t, s.finished, 1)
		assert.Equal(t, 2, s.finished[0].Width)
	}
	assert.EqualError(t, m.Close(), "b failed")
}

func TestLogSink(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	var sink LogSink
	sink.Round(ctx, sampleStats(7))
	sink.Finished(ctx, Summary{Width: 4, Height: 4, Batches: 1, Outcomes: map[string]int{"hit": 3}})
	require.NoError(t, sink.Close())

	out := buf.String()
	assert.Contains(t, out, "Round finished.")
	assert.Contains(t, out, "polled=6")
	assert.Contains(t, out, "Pool capacity exhausted during round.")
	assert.Contains(t, out, "group=trace")
	assert.NotContains(t, out, "group=raygen")
	assert.Contains(t, out, "Frame summary.")
	assert.Contains(t, out, "size=16")
}

func TestToEventData(t *testing.T) {
	data, err := toEventData(sampleStats(3))
	require.NoError(t, err)
	assert.Equal(t, float64(3), data["round"])
	groups, ok := data["groups"].([]any)
	require.True(t, ok)
	require.Len(t, groups, 2)
	assert.Equal(t, "trace", groups[1].(map[string]any)["name"])

	_, err = toEventData(func() {})
	assert.Error(t, err)
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), SocketIOOptions{URL: "localhost"})
	assert.ErrorContains(t, err, "needs a scheme and a host")
}

func TestDial_Unreachable(t *testing.T) {
	// Nothing listens on the closed server's address.
	srv := httptest.NewServer(nil)
	addr := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, SocketIOOptions{URL: addr, ConnectTimeout: 3 * time.Second})
	assert.Error(t, err)
}

func TestSocketIOSink_StreamsEvents(t *testing.T) {
	// --- Arrange ---
	io := sioserver.NewServer(nil, nil)
	rounds := make(chan map[string]any, 4)
	finished := make(chan map[string]any, 1)
	io.On("connection", func(clients ...any) {
		client := clients[0].(*sioserver.Socket)
		client.On(EventRound, func(args ...any) {
			if len(args) > 0 {
				if m, ok := args[0].(map[string]any); ok {
					rounds <- m
				}
			}
		})
		client.On(EventFinished, func(args ...any) {
			if len(args) > 0 {
				if m, ok := args[0].(map[string]any); ok {
					finished <- m
				}
			}
		})
	})
	srv := httptest.NewServer(io.ServeHandler(nil))
	t.Cleanup(func() {
		io.Close(nil)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Act ---
	sink, err := Dial(ctx, SocketIOOptions{URL: srv.URL})
	require.NoError(t, err)
	defer sink.Close()

	sink.Round(ctx, sampleStats(1))
	sink.Finished(ctx, Summary{Width: 8, Height: 2, Outcomes: map[string]int{"miss": 16}})

	// --- Assert ---
	select {
	case got := <-rounds:
		assert.Equal(t, float64(1), got["round"])
	case <-ctx.Done():
		t.Fatal("round event not received")
	}
	select {
	case got := <-finished:
		assert.Equal(t, float64(8), got["width"])
		assert.Equal(t, map[string]any{"miss": float64(16)}, got["outcomes"])
	case <-ctx.Done():
		t.Fatal("finished event not received")
	}
}
