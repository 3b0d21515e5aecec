package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/future"
	"github.com/vk/wavefront/internal/group"
	"github.com/vk/wavefront/internal/pool"
)

var (
	// ErrRoundBudgetExceeded is returned by Run when roots are still active
	// after the allowed number of rounds.
	ErrRoundBudgetExceeded = errors.New("scheduler: round budget exceeded")
	// ErrUnknownType is returned for a task type no group was registered for.
	ErrUnknownType = errors.New("scheduler: unknown task type")
)

// GroupStats is the state of one task group after a round.
type GroupStats struct {
	Name          string `json:"name"`
	Type          int32  `json:"type"`
	Cap           int    `json:"cap"`
	Active        int    `json:"active"`
	Alive         int    `json:"alive"`
	Free          int    `json:"free"`
	Polled        int    `json:"polled"`
	Finished      int    `json:"finished"`
	Spawned       int    `json:"spawned"`
	SpawnFailures int    `json:"spawnFailures"`
	Reaped        int    `json:"reaped"`
}

// RoundStats summarises one round.
type RoundStats struct {
	Round        int           `json:"round"`
	Duration     time.Duration `json:"duration"`
	ConfigErrors int           `json:"configErrors"`
	Groups       []GroupStats  `json:"groups"`
}

// Polled returns the number of poll steps run across all groups.
func (s RoundStats) Polled() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Polled
	}
	return n
}

// Active returns the number of unfinished tasks across all groups.
func (s RoundStats) Active() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Active
	}
	return n
}

// RootResult is the outcome of one seeded root task.
type RootResult struct {
	Ref     pool.Ref
	Status  pool.Status
	Payload []byte
}

// Driver runs task groups round by round. The first group is the root type;
// the order of the groups is the dependency order used within a round.
type Driver struct {
	groups   []group.Group
	byID     map[pool.TypeID]group.Group
	root     group.Group
	lanes    int
	observer Observer

	round        int
	roots        []pool.Ref
	configErrors atomic.Int64
	last         atomic.Pointer[RoundStats]
}

var (
	_ Scheduler   = (*Driver)(nil)
	_ future.Host = (*Driver)(nil)
)

// Option configures a Driver.
type Option func(*Driver)

// WithLanes bounds the number of poll steps running at once.
func WithLanes(n int) Option {
	return func(d *Driver) { d.lanes = n }
}

// WithObserver registers an observer called after every round.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// New creates a driver over groups, the first of which is the root type.
func New(groups []group.Group, opts ...Option) (*Driver, error) {
	if len(groups) == 0 {
		return nil, errors.New("scheduler: at least one task group is required")
	}
	d := &Driver{
		groups: groups,
		byID:   make(map[pool.TypeID]group.Group, len(groups)),
		root:   groups[0],
		lanes:  runtime.GOMAXPROCS(0),
	}
	for _, g := range groups {
		if prev, ok := d.byID[g.ID()]; ok {
			return nil, fmt.Errorf("scheduler: task type %d registered twice (%s, %s)", g.ID(), prev.Name(), g.Name())
		}
		d.byID[g.ID()] = g
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.lanes <= 0 {
		d.lanes = runtime.GOMAXPROCS(0)
	}
	return d, nil
}

// Groups returns the task groups in dependency order.
func (d *Driver) Groups() []group.Group { return d.groups }

// Group returns the group registered for typ.
func (d *Driver) Group(typ pool.TypeID) (group.Group, bool) {
	g, ok := d.byID[typ]
	return g, ok
}

// Lanes returns the dispatch width.
func (d *Driver) Lanes() int { return d.lanes }

// Round returns the number of rounds executed since the last reset.
func (d *Driver) Round() int { return d.round }

// ConfigErrors returns the number of fallback branches taken since the last reset.
func (d *Driver) ConfigErrors() int { return int(d.configErrors.Load()) }

// LastRound returns the stats of the most recent round.
func (d *Driver) LastRound() (RoundStats, bool) {
	s := d.last.Load()
	if s == nil {
		return RoundStats{}, false
	}
	return *s, true
}

// Reset resizes every pool for a batch of expectedRoots root tasks.
func (d *Driver) Reset(expectedRoots int) {
	for _, g := range d.groups {
		g.Reset(g.Sizing().Capacity(expectedRoots))
	}
	d.round = 0
	d.roots = d.roots[:0]
	d.configErrors.Store(0)
	d.last.Store(nil)
}

// SeedRoot spawns a root task. Roots must be seeded between rounds.
func (d *Driver) SeedRoot(payload []byte) error {
	ref, err := d.root.Spawn(payload, pool.None)
	if err != nil {
		return fmt.Errorf("seed root %s: %w", d.root.Name(), err)
	}
	d.roots = append(d.roots, ref)
	return nil
}

// Roots returns the references of the seeded roots in seed order.
func (d *Driver) Roots() []pool.Ref { return d.roots }

// ExecuteOneRound runs one round over every group in dependency order.
func (d *Driver) ExecuteOneRound(ctx context.Context) (RoundStats, error) {
	logger := ctxlog.FromContext(ctx)
	d.round++
	start := time.Now()
	stats := RoundStats{Round: d.round, Groups: make([]GroupStats, 0, len(d.groups))}

	for _, g := range d.groups {
		g.Compact()
		ds, err := g.Dispatch(ctx, d, d.round, d.lanes)
		err = errors.Join(err, g.Commit())
		if err != nil {
			return stats, fmt.Errorf("round %d, task group %s: %w", d.round, g.Name(), err)
		}
		c := g.Counters()
		stats.Groups = append(stats.Groups, GroupStats{
			Name:          g.Name(),
			Type:          int32(g.ID()),
			Cap:           g.Cap(),
			Active:        g.ActiveCount(),
			Alive:         g.Alive(),
			Free:          g.FreeCount(),
			Polled:        ds.Polled,
			Finished:      ds.Finished,
			Spawned:       c.Spawned,
			SpawnFailures: c.SpawnFailures,
			Reaped:        c.Reaped,
		})
	}
	stats.Duration = time.Since(start)
	stats.ConfigErrors = d.ConfigErrors()
	d.last.Store(&stats)

	logger.Debug("Round executed.", "round", stats.Round, "polled", stats.Polled(), "active", stats.Active(), "duration", stats.Duration)
	if d.observer != nil {
		d.observer.ObserveRound(ctx, stats)
	}
	return stats, nil
}

// AllDone reports whether every root task finished.
func (d *Driver) AllDone() bool {
	return d.root.ActiveCount() == 0
}

// RoundBudget is a generous round bound derived from the required poll
// counts and recursion depths of the groups.
func (d *Driver) RoundBudget() int {
	budget := len(d.groups)
	for _, g := range d.groups {
		r := g.Sizing().Recursion
		if r < 1 {
			r = 1
		}
		budget += g.RequiredPollCount() * r
	}
	return budget
}

// Run executes rounds until all roots are done, the budget is spent or ctx
// is canceled. A budget of zero or less uses RoundBudget. It returns the
// number of rounds executed.
func (d *Driver) Run(ctx context.Context, budget int) (int, error) {
	logger := ctxlog.FromContext(ctx)
	if budget <= 0 {
		budget = d.RoundBudget()
	}
	logger.Debug("Running rounds.", "budget", budget, "lanes", d.lanes, "roots", len(d.roots))

	rounds := 0
	for !d.AllDone() {
		if rounds >= budget {
			return rounds, fmt.Errorf("%w: %d roots still active after %d rounds", ErrRoundBudgetExceeded, d.root.ActiveCount(), rounds)
		}
		if err := ctx.Err(); err != nil {
			return rounds, err
		}
		if _, err := d.ExecuteOneRound(ctx); err != nil {
			return rounds, err
		}
		rounds++
	}
	logger.Debug("All roots done.", "rounds", rounds)
	return rounds, nil
}

// CollectRoots reads and reaps every finished root and folds all released
// slots back into the free lists. Unfinished roots are reported with their
// status and stay seeded.
func (d *Driver) CollectRoots() ([]RootResult, error) {
	out := make([]RootResult, 0, len(d.roots))
	pendingRoots := d.roots[:0]
	var errs []error
	for _, ref := range d.roots {
		res := RootResult{Ref: ref, Status: d.root.Status(ref)}
		if res.Status != pool.Finished {
			out = append(out, res)
			pendingRoots = append(pendingRoots, ref)
			continue
		}
		b, err := d.root.ReadPayload(ref)
		if err != nil {
			errs = append(errs, err)
			out = append(out, res)
			continue
		}
		res.Payload = b
		if err := d.root.Reap(ref); err != nil {
			errs = append(errs, err)
		}
		out = append(out, res)
	}
	d.roots = pendingRoots

	for _, g := range d.groups {
		g.Compact()
		if err := g.Commit(); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Spawn implements future.Spawner.
func (d *Driver) Spawn(typ pool.TypeID, payload []byte, parent pool.Ref) (pool.Ref, error) {
	g, ok := d.byID[typ]
	if !ok {
		return pool.None, fmt.Errorf("spawn type %d: %w", typ, ErrUnknownType)
	}
	return g.Spawn(payload, parent)
}

// Status implements future.Spawner.
func (d *Driver) Status(ref pool.Ref) pool.Status {
	g, ok := d.byID[ref.Type]
	if !ok {
		return pool.DoesNotExist
	}
	return g.Status(ref)
}

// ReadPayload implements future.Spawner.
func (d *Driver) ReadPayload(ref pool.Ref) ([]byte, error) {
	g, ok := d.byID[ref.Type]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", ref, ErrUnknownType)
	}
	return g.ReadPayload(ref)
}

// Reap implements future.Spawner.
func (d *Driver) Reap(ref pool.Ref) error {
	g, ok := d.byID[ref.Type]
	if !ok {
		return fmt.Errorf("reap %s: %w", ref, ErrUnknownType)
	}
	return g.Reap(ref)
}

// ReportConfigError implements future.Reporter.
func (d *Driver) ReportConfigError(_ pool.Ref, _ error) {
	d.configErrors.Add(1)
}
