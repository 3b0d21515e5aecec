package trace

import (
	"errors"
	"fmt"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/codec"
	"github.com/vk/wavefront/internal/future"
	"github.com/vk/wavefront/internal/pool"
	"github.com/vk/wavefront/internal/vecmath"
)

// Outcome is how a trace task resolved.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeHit
	OutcomeMiss
	OutcomeSpawnFailed
	OutcomeConfigError
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeSpawnFailed:
		return "spawn-failed"
	case OutcomeConfigError:
		return "config-error"
	case OutcomeLost:
		return "lost"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Payload is the payload of a trace task. The caller fills Ray and Depth;
// the task fills the rest.
type Payload struct {
	Ray     accel.Ray        `cty:"ray"`
	Depth   int              `cty:"depth"`
	Child   future.ChildLink `cty:"child"`
	Outcome Outcome          `cty:"outcome"`
	Color   vecmath.Vec3     `cty:"color"`
}

// State is the private state of a trace task. Everything it needs is in the
// payload.
type State struct{}

// ShadePayload is the payload of a closest-hit or miss sub-task. The trace
// task fills everything but Child and Result; the sub-task writes Result
// and may use Child for a nested spawn.
type ShadePayload struct {
	Ray         accel.Ray    `cty:"ray"`
	Depth       int          `cty:"depth"`
	Hit         bool         `cty:"hit"`
	T           float32      `cty:"t"`
	Position    vecmath.Vec3 `cty:"position"`
	Normal      vecmath.Vec3 `cty:"normal"`
	FrontFace   bool         `cty:"front_face"`
	U           float32      `cty:"u"`
	V           float32      `cty:"v"`
	InstanceID  uint32       `cty:"instance_id"`
	GeometryID  uint32       `cty:"geometry_id"`
	PrimitiveID uint32       `cty:"primitive_id"`
	Record      uint32       `cty:"record"`
	Param       vecmath.Vec3 `cty:"param"`

	Child  future.ChildLink `cty:"child"`
	Result vecmath.Vec3     `cty:"result"`
}

var (
	// PayloadSchema is the schema of trace task payloads.
	PayloadSchema = codec.MustNew[Payload]("trace")
	// ShadeSchema is the schema of sub-task payloads.
	ShadeSchema = codec.MustNew[ShadePayload]("shade")
)

// Config wires the adaptor to its collaborators.
type Config struct {
	Traverser accel.Traverser
	// Scene provides geometric normals. Without it the normal is the reversed
	// ray direction.
	Scene *accel.Scene
	SBT   *SBT
	// Targets maps every kind the table may select to its task type.
	Targets map[Kind]pool.TypeID
	// Fallback is the colour of traces that could not be shaded.
	Fallback vecmath.Vec3
}

// Adaptor is the future of the trace task type.
type Adaptor struct {
	cfg Config
}

var _ future.Future[State, Payload] = (*Adaptor)(nil)

// New checks cfg and returns the adaptor.
func New(cfg Config) (*Adaptor, error) {
	if cfg.Traverser == nil {
		return nil, errors.New("trace: traverser is required")
	}
	if cfg.SBT == nil {
		return nil, errors.New("trace: shader binding table is required")
	}
	return &Adaptor{cfg: cfg}, nil
}

// Poll traverses and spawns the sub-task on the first step, then waits for
// the sub-task and copies its result.
func (a *Adaptor) Poll(inv *future.Invocation[State, Payload]) future.Poll {
	p := &inv.Payload
	if p.Child.State == future.LinkNotSpawned {
		return a.dispatch(inv)
	}

	res, poll := future.Await(&inv.Env, &p.Child, ShadeSchema)
	if poll == future.Pending {
		return future.Pending
	}
	if p.Child.Succeeded() {
		p.Color = res.Result
	} else {
		p.Outcome = OutcomeLost
		p.Color = a.cfg.Fallback
	}
	return future.Ready
}

func (a *Adaptor) dispatch(inv *future.Invocation[State, Payload]) future.Poll {
	p := &inv.Payload
	hit, ok := a.cfg.Traverser.Traverse(p.Ray, a.cfg.SBT.AnyHit(p.Ray))

	var (
		kind Kind
		arg  ShadePayload
		err  error
	)
	if ok {
		kind, arg, err = a.shadeHit(p, hit)
		p.Outcome = OutcomeHit
	} else {
		kind, arg, err = a.shadeMiss(p)
		p.Outcome = OutcomeMiss
	}
	var typ pool.TypeID
	if err == nil {
		var bound bool
		if typ, bound = a.cfg.Targets[kind]; !bound {
			err = fmt.Errorf("%w: kind %s has no task type", ErrNoBinding, kind)
		}
	}
	if err != nil {
		inv.Host.ReportConfigError(inv.Self, err)
		inv.Logger.Warn("Shader binding failed, using fallback colour.", "outcome", p.Outcome, "error", err)
		p.Outcome = OutcomeConfigError
		p.Color = a.cfg.Fallback
		return future.Ready
	}

	if err := future.Spawn(&inv.Env, &p.Child, typ, ShadeSchema, arg); err != nil {
		p.Outcome = OutcomeSpawnFailed
		p.Color = a.cfg.Fallback
		return future.Ready
	}
	return future.Pending
}

func (a *Adaptor) shadeHit(p *Payload, hit accel.HitRecord) (Kind, ShadePayload, error) {
	group, record, err := a.cfg.SBT.LookupHit(hit.SBTOffset, hit.GeometryID, p.Ray.SBTOffset)
	if err != nil {
		return 0, ShadePayload{}, err
	}
	normal := p.Ray.Direction.Neg().Normalize()
	if a.cfg.Scene != nil {
		normal = a.cfg.Scene.GeometricNormal(hit)
	}
	if normal.Dot(p.Ray.Direction) > 0 {
		normal = normal.Neg()
	}
	return group.Kind, ShadePayload{
		Ray:         p.Ray,
		Depth:       p.Depth,
		Hit:         true,
		T:           hit.T,
		Position:    p.Ray.At(hit.T),
		Normal:      normal,
		FrontFace:   hit.Kind == accel.FrontFace,
		U:           hit.U,
		V:           hit.V,
		InstanceID:  hit.InstanceID,
		GeometryID:  hit.GeometryID,
		PrimitiveID: hit.PrimitiveID,
		Record:      uint32(record),
		Param:       group.Color,
	}, nil
}

func (a *Adaptor) shadeMiss(p *Payload) (Kind, ShadePayload, error) {
	miss, err := a.cfg.SBT.LookupMiss(p.Ray.MissIndex)
	if err != nil {
		return 0, ShadePayload{}, err
	}
	return miss.Kind, ShadePayload{
		Ray:    p.Ray,
		Depth:  p.Depth,
		Record: p.Ray.MissIndex,
		Param:  miss.Color,
	}, nil
}

// RequiredPollCount is two: one step to spawn, one to collect.
func (a *Adaptor) RequiredPollCount() int { return 2 }

func (a *Adaptor) Bindings() []future.Binding {
	return []future.Binding{
		{Name: "scene", Kind: "accel"},
		{Name: "table", Kind: "sbt"},
		{Name: ShadeSchema.Name(), Kind: "task"},
	}
}

func (a *Adaptor) String() string { return "trace" }
