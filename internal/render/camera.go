// Package render is the ray-traced workload run on the scheduler: a ray
// generation task per pixel, the trace task, and the closest-hit and miss
// task types the shader binding table can select.
//
// Task types and their order in a round:
//
//	raygen → trace → lambert, mirror, normal, sky, solid
//
// A mirror spawns a new trace task for the reflected ray, so trace and
// mirror pools are sized for the configured maximum depth.
package render

import (
	"math"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/vecmath"
)

// rayEpsilon offsets secondary rays and primary ray starts off surfaces.
const rayEpsilon = 1e-4

// farAway is the TMax of every generated ray.
const farAway = 1e30

// Camera is a pinhole camera.
type Camera struct {
	Origin vecmath.Vec3
	LookAt vecmath.Vec3
	Up     vecmath.Vec3
	// FOV is the vertical field of view in degrees.
	FOV float32
}

// DefaultCamera looks from +z at the origin.
func DefaultCamera() Camera {
	return Camera{Origin: vecmath.V(0, 0, 5), LookAt: vecmath.V(0, 0, 0), Up: vecmath.V(0, 1, 0), FOV: 45}
}

// Ray returns the primary ray through the centre of pixel (x, y) of a
// width×height image. Row 0 is the top of the image.
func (c Camera) Ray(x, y, width, height int) accel.Ray {
	forward := c.LookAt.Sub(c.Origin).Normalize()
	right := forward.Cross(c.Up).Normalize()
	up := right.Cross(forward)

	aspect := float32(width) / float32(height)
	scale := float32(math.Tan(float64(c.FOV) * math.Pi / 360))
	px := (2*(float32(x)+0.5)/float32(width) - 1) * aspect * scale
	py := (1 - 2*(float32(y)+0.5)/float32(height)) * scale

	dir := forward.Add(right.Scale(px)).Add(up.Scale(py)).Normalize()
	return accel.Ray{
		Origin:    c.Origin,
		Direction: dir,
		TMin:      rayEpsilon,
		TMax:      farAway,
		CullMask:  0xFF,
	}
}

// Light is a directional light.
type Light struct {
	// Direction points from the light towards the scene.
	Direction vecmath.Vec3
	Color     vecmath.Vec3
	// Ambient is added to every lambert surface.
	Ambient vecmath.Vec3
}

// DefaultLight shines down and away from the default camera.
func DefaultLight() Light {
	return Light{
		Direction: vecmath.V(-0.3, -1, -0.5).Normalize(),
		Color:     vecmath.V(1, 1, 1),
		Ambient:   vecmath.Splat(0.1),
	}
}
