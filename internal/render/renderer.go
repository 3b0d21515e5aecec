package render

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/future"
	"github.com/vk/wavefront/internal/group"
	"github.com/vk/wavefront/internal/pool"
	"github.com/vk/wavefront/internal/scheduler"
	"github.com/vk/wavefront/internal/trace"
	"github.com/vk/wavefront/internal/vecmath"
)

// Options configure a Renderer.
type Options struct {
	Width, Height int
	// MaxDepth bounds trace recursion; a value below 1 is treated as 1.
	MaxDepth int
	// Lanes is the number of parallel lanes per dispatch.
	Lanes int
	// Rounds is the round budget of one batch. Zero uses the driver's estimate.
	Rounds int
	// BatchSize is the number of pixels per batch. Zero renders all pixels
	// in a single batch.
	BatchSize int
	Camera    Camera
	Light     Light
	Fallback  vecmath.Vec3
	// Pools override the default sizing per task type name.
	Pools    map[string]group.Sizing
	Observer scheduler.Observer
}

// Renderer renders a scene by running pixel batches on a scheduler driver.
type Renderer struct {
	opts   Options
	driver *scheduler.Driver
}

// New builds the task groups and the driver.
func New(scene *accel.Scene, tr accel.Traverser, sbt *trace.SBT, opts Options) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid image size %dx%d", opts.Width, opts.Height)
	}
	opts.MaxDepth = max(opts.MaxDepth, 1)
	for name := range opts.Pools {
		if !knownType(name) {
			return nil, fmt.Errorf("render: pool %q does not name a task type", name)
		}
	}

	adaptor, err := trace.New(trace.Config{
		Traverser: tr,
		Scene:     scene,
		SBT:       sbt,
		Targets:   Targets,
		Fallback:  opts.Fallback,
	})
	if err != nil {
		return nil, err
	}

	r := &Renderer{opts: opts}
	var (
		groups   []group.Group
		firstErr error
	)
	keep := func(g group.Group, err error) {
		if err != nil {
			firstErr = cmp.Or(firstErr, err)
			return
		}
		groups = append(groups, g)
	}
	keep(group.New(TypeRaygen, TypeNames[TypeRaygen], raygen(opts.Camera, opts.Width, opts.Height, opts.Fallback), r.sizing(TypeRaygen)))
	keep(group.New(TypeTrace, TypeNames[TypeTrace], future.Future[none, trace.Payload](adaptor), r.sizing(TypeTrace)))
	keep(group.New(TypeLambert, TypeNames[TypeLambert], lambert(opts.Light), r.sizing(TypeLambert)))
	keep(group.New(TypeMirror, TypeNames[TypeMirror], mirror(opts.MaxDepth, opts.Fallback), r.sizing(TypeMirror)))
	keep(group.New(TypeNormal, TypeNames[TypeNormal], normal(), r.sizing(TypeNormal)))
	keep(group.New(TypeSky, TypeNames[TypeSky], sky(), r.sizing(TypeSky)))
	keep(group.New(TypeSolid, TypeNames[TypeSolid], solid(), r.sizing(TypeSolid)))
	if firstErr != nil {
		return nil, fmt.Errorf("render: %w", firstErr)
	}

	var dopts []scheduler.Option
	if opts.Lanes > 0 {
		dopts = append(dopts, scheduler.WithLanes(opts.Lanes))
	}
	if opts.Observer != nil {
		dopts = append(dopts, scheduler.WithObserver(opts.Observer))
	}
	r.driver, err = scheduler.New(groups, dopts...)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return r, nil
}

func knownType(name string) bool {
	for _, n := range TypeNames {
		if n == name {
			return true
		}
	}
	return false
}

// sizing returns the configured sizing of typ, defaulting trace and mirror
// to one live task per root and recursion level.
func (r *Renderer) sizing(typ pool.TypeID) group.Sizing {
	if s, ok := r.opts.Pools[TypeNames[typ]]; ok {
		return s
	}
	switch typ {
	case TypeTrace, TypeMirror:
		return group.Sizing{Recursion: r.opts.MaxDepth}
	default:
		return group.Sizing{}
	}
}

// Driver exposes the scheduler driver, for status reporting.
func (r *Renderer) Driver() *scheduler.Driver { return r.driver }

// Frame is a rendered image and what it took to produce it.
type Frame struct {
	Width, Height int
	Pixels        []vecmath.Vec3
	Outcomes      map[trace.Outcome]int
	Batches       int
	Rounds        int
	ConfigErrors  int
	Duration      time.Duration
}

// At returns the colour of pixel (x, y).
func (f *Frame) At(x, y int) vecmath.Vec3 { return f.Pixels[y*f.Width+x] }

// Image converts the frame to 8-bit RGBA.
func (f *Frame) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := f.At(x, y).Clamp01()
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(c.X*255 + 0.5),
				G: uint8(c.Y*255 + 0.5),
				B: uint8(c.Z*255 + 0.5),
				A: 255,
			})
		}
	}
	return img
}

// Render runs every pixel batch to completion.
func (r *Renderer) Render(ctx context.Context) (*Frame, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	total := r.opts.Width * r.opts.Height
	batch := r.opts.BatchSize
	if batch <= 0 || batch > total {
		batch = total
	}
	f := &Frame{
		Width:    r.opts.Width,
		Height:   r.opts.Height,
		Pixels:   make([]vecmath.Vec3, total),
		Outcomes: make(map[trace.Outcome]int),
	}

	logger.Info("🎬 Rendering started.", "width", f.Width, "height", f.Height, "batch", batch, "lanes", r.driver.Lanes())
	for first := 0; first < total; first += batch {
		n := min(batch, total-first)
		rounds, err := r.renderBatch(ctx, f, first, n)
		f.Batches++
		f.Rounds += rounds
		f.ConfigErrors += r.driver.ConfigErrors()
		if err != nil {
			return f, fmt.Errorf("render batch %d: %w", f.Batches, err)
		}
	}
	f.Duration = time.Since(start)
	logger.Info("✅ Rendering finished.", "batches", f.Batches, "rounds", f.Rounds, "configErrors", f.ConfigErrors, "duration", f.Duration)
	return f, nil
}

func (r *Renderer) renderBatch(ctx context.Context, f *Frame, first, n int) (int, error) {
	logger := ctxlog.FromContext(ctx)
	r.driver.Reset(n)
	for i := first; i < first+n; i++ {
		b, err := PixelSchema.Encode(Pixel{X: i % f.Width, Y: i / f.Width})
		if err != nil {
			return 0, err
		}
		if err := r.driver.SeedRoot(b); err != nil {
			return 0, err
		}
	}

	rounds, runErr := r.driver.Run(ctx, r.opts.Rounds)
	results, err := r.driver.CollectRoots()
	if err != nil {
		return rounds, err
	}
	for _, res := range results {
		if res.Status != pool.Finished {
			continue
		}
		px, err := PixelSchema.Decode(res.Payload)
		if err != nil {
			return rounds, err
		}
		f.Pixels[px.Y*f.Width+px.X] = px.Color
		f.Outcomes[px.Outcome]++
	}
	logger.Debug("Batch rendered.", "first", first, "pixels", n, "rounds", rounds)
	return rounds, runErr
}
