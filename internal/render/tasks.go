package render

import (
	"github.com/vk/wavefront/internal/codec"
	"github.com/vk/wavefront/internal/future"
	"github.com/vk/wavefront/internal/pool"
	"github.com/vk/wavefront/internal/trace"
	"github.com/vk/wavefront/internal/vecmath"
)

// Task type ids in dependency order.
const (
	TypeRaygen pool.TypeID = iota
	TypeTrace
	TypeLambert
	TypeMirror
	TypeNormal
	TypeSky
	TypeSolid
)

// TypeNames maps every task type to the name used for pools and logs.
var TypeNames = map[pool.TypeID]string{
	TypeRaygen:  "raygen",
	TypeTrace:   "trace",
	TypeLambert: "lambert",
	TypeMirror:  "mirror",
	TypeNormal:  "normal",
	TypeSky:     "sky",
	TypeSolid:   "solid",
}

// Targets maps shader kinds to the task types implementing them.
var Targets = map[trace.Kind]pool.TypeID{
	trace.KindLambert: TypeLambert,
	trace.KindMirror:  TypeMirror,
	trace.KindNormal:  TypeNormal,
	trace.KindSky:     TypeSky,
	trace.KindSolid:   TypeSolid,
}

// Pixel is the payload of a raygen task.
type Pixel struct {
	X       int              `cty:"x"`
	Y       int              `cty:"y"`
	Link    future.ChildLink `cty:"link"`
	Outcome trace.Outcome    `cty:"outcome"`
	Color   vecmath.Vec3     `cty:"color"`
}

// PixelSchema is the schema of raygen payloads.
var PixelSchema = codec.MustNew[Pixel]("pixel")

type none = trace.State

// raygen traces the primary ray of its pixel and keeps the colour.
func raygen(cam Camera, width, height int, fallback vecmath.Vec3) future.Future[none, Pixel] {
	return future.SpawnAndAwait("raygen", TypeTrace, trace.PayloadSchema,
		func(inv *future.Invocation[none, Pixel]) *future.ChildLink { return &inv.Payload.Link },
		func(inv *future.Invocation[none, Pixel]) trace.Payload {
			return trace.Payload{Ray: cam.Ray(inv.Payload.X, inv.Payload.Y, width, height)}
		},
		func(inv *future.Invocation[none, Pixel], res trace.Payload, link future.ChildLink) {
			switch {
			case link.Succeeded():
				inv.Payload.Outcome = res.Outcome
				inv.Payload.Color = res.Color
			case link.State == future.LinkSpawnFailed:
				inv.Payload.Outcome = trace.OutcomeSpawnFailed
				inv.Payload.Color = fallback
			default:
				inv.Payload.Outcome = trace.OutcomeLost
				inv.Payload.Color = fallback
			}
		},
	)
}

func lambert(light Light) future.Future[none, trace.ShadePayload] {
	toLight := light.Direction.Neg().Normalize()
	return future.Done("lambert", func(inv *future.Invocation[none, trace.ShadePayload]) {
		p := &inv.Payload
		diffuse := max(p.Normal.Dot(toLight), 0)
		p.Result = p.Param.Mul(light.Ambient.Add(light.Color.Scale(diffuse))).Clamp01()
	})
}

func normal() future.Future[none, trace.ShadePayload] {
	return future.Done("normal", func(inv *future.Invocation[none, trace.ShadePayload]) {
		p := &inv.Payload
		p.Result = p.Normal.Scale(0.5).Add(vecmath.Splat(0.5))
	})
}

func solid() future.Future[none, trace.ShadePayload] {
	return future.Done("solid", func(inv *future.Invocation[none, trace.ShadePayload]) {
		inv.Payload.Result = inv.Payload.Param
	})
}

// sky blends from white at the horizon to the record colour at the zenith.
func sky() future.Future[none, trace.ShadePayload] {
	return future.Done("sky", func(inv *future.Invocation[none, trace.ShadePayload]) {
		p := &inv.Payload
		t := 0.5 * (p.Ray.Direction.Normalize().Y + 1)
		p.Result = vecmath.Lerp(vecmath.Splat(1), p.Param, t)
	})
}

// mirror reflects the ray and tints what the reflection sees. At the last
// level of recursion it resolves black without tracing.
func mirror(maxDepth int, fallback vecmath.Vec3) future.Future[none, trace.ShadePayload] {
	reflect := future.SpawnAndAwait("reflect", TypeTrace, trace.PayloadSchema,
		func(inv *future.Invocation[none, trace.ShadePayload]) *future.ChildLink { return &inv.Payload.Child },
		func(inv *future.Invocation[none, trace.ShadePayload]) trace.Payload {
			p := inv.Payload
			r := p.Ray
			r.Origin = p.Position.Add(p.Normal.Scale(rayEpsilon))
			r.Direction = p.Ray.Direction.Reflect(p.Normal).Normalize()
			r.TMin = rayEpsilon
			return trace.Payload{Ray: r, Depth: p.Depth + 1}
		},
		func(inv *future.Invocation[none, trace.ShadePayload], res trace.Payload, link future.ChildLink) {
			if !link.Succeeded() {
				inv.Payload.Result = fallback
				return
			}
			inv.Payload.Result = inv.Payload.Param.Mul(res.Color)
		},
	)
	return future.Func("mirror", reflect.RequiredPollCount(), func(inv *future.Invocation[none, trace.ShadePayload]) future.Poll {
		if inv.Payload.Depth+1 >= maxDepth && inv.Payload.Child.State == future.LinkNotSpawned {
			inv.Payload.Result = vecmath.Vec3{}
			return future.Ready
		}
		return reflect.Poll(inv)
	}, reflect.Bindings()...)
}
