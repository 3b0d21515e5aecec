// Package vecmath holds the small float32 vector, box and affine transform
// types shared by the acceleration structure and the render tasks.
package vecmath

import "math"

// Vec3 is a 3-component float32 vector. The cty tags let payload schemas
// embed it directly.
type Vec3 struct {
	X float32 `cty:"x"`
	Y float32 `cty:"y"`
	Z float32 `cty:"z"`
}

// V is shorthand for Vec3{x, y, z}.
func V(x, y, z float32) Vec3 { return Vec3{X: x, Y: y, Z: z} }

// Splat returns a vector with all components set to s.
func Splat(s float32) Vec3 { return Vec3{X: s, Y: s, Z: s} }

// FromSlice builds a vector from the first three elements of s.
func FromSlice(s []float32) Vec3 {
	var v Vec3
	if len(s) > 0 {
		v.X = s[0]
	}
	if len(s) > 1 {
		v.Y = s[1]
	}
	if len(s) > 2 {
		v.Z = s[2]
	}
	return v
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Mul(b Vec3) Vec3 { return Vec3{a.X * b.X, a.Y * b.Y, a.Z * b.Z} }
func (a Vec3) Scale(s float32) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Neg() Vec3 { return Vec3{-a.X, -a.Y, -a.Z} }
func (a Vec3) Dot(b Vec3) float32 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) Length() float32 {
	return float32(math.Sqrt(float64(a.Dot(a))))
}

// Normalize returns a unit vector, or the zero vector for a zero input.
func (a Vec3) Normalize() Vec3 {
	l := a.Length()
	if l == 0 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

func (a Vec3) Min(b Vec3) Vec3 {
	return Vec3{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)}
}

func (a Vec3) Max(b Vec3) Vec3 {
	return Vec3{max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z)}
}

// Axis returns component i (0=x, 1=y, 2=z).
func (a Vec3) Axis(i int) float32 {
	switch i {
	case 0:
		return a.X
	case 1:
		return a.Y
	default:
		return a.Z
	}
}

// Reflect mirrors a about the unit normal n.
func (a Vec3) Reflect(n Vec3) Vec3 {
	return a.Sub(n.Scale(2 * a.Dot(n)))
}

// Clamp01 limits every component to [0, 1].
func (a Vec3) Clamp01() Vec3 {
	c := func(v float32) float32 { return min(max(v, 0), 1) }
	return Vec3{c(a.X), c(a.Y), c(a.Z)}
}

// Lerp interpolates between a and b.
func Lerp(a, b Vec3, t float32) Vec3 {
	return a.Scale(1 - t).Add(b.Scale(t))
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max Vec3
}

// EmptyAABB returns a box that any Grow call replaces.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{Min: Splat(inf), Max: Splat(-inf)}
}

// Grow extends the box to contain p.
func (b AABB) Grow(p Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

// Union extends the box to contain o.
func (b AABB) Union(o AABB) AABB {
	return AABB{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// Empty reports whether the box contains nothing.
func (b AABB) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b AABB) Centroid() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// SurfaceArea returns the area of the box, zero for an empty box.
func (b AABB) SurfaceArea() float32 {
	if b.Empty() {
		return 0
	}
	d := b.Max.Sub(b.Min)
	return 2 * (d.X*d.Y + d.Y*d.Z + d.Z*d.X)
}

// LargestAxis returns the axis with the largest extent.
func (b AABB) LargestAxis() int {
	d := b.Max.Sub(b.Min)
	switch {
	case d.X >= d.Y && d.X >= d.Z:
		return 0
	case d.Y >= d.Z:
		return 1
	default:
		return 2
	}
}

// Intersect runs the slab test for a ray with precomputed inverse direction
// and returns the entry distance.
func (b AABB) Intersect(origin, invDir Vec3, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		o, inv := origin.Axis(axis), invDir.Axis(axis)
		lo, hi := b.Min.Axis(axis), b.Max.Axis(axis)
		if math.IsInf(float64(inv), 0) {
			// Parallel to the slab: inside or never.
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t0 := (lo - o) * inv
		t1 := (hi - o) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tMin = max(tMin, t0)
		tMax = min(tMax, t1)
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// Inverse returns the componentwise reciprocal, with ±Inf for zero components.
func (a Vec3) Inverse() Vec3 {
	inv := func(v float32) float32 {
		if v == 0 {
			return float32(math.Inf(1))
		}
		return 1 / v
	}
	return Vec3{inv(a.X), inv(a.Y), inv(a.Z)}
}

// Mat3x4 is a row-major affine transform: a 3x3 linear part and a translation
// column.
type Mat3x4 [3][4]float32

// Identity returns the identity transform.
func Identity() Mat3x4 {
	return Mat3x4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
}

// Translate returns a translation by t.
func Translate(t Vec3) Mat3x4 {
	return Mat3x4{{1, 0, 0, t.X}, {0, 1, 0, t.Y}, {0, 0, 1, t.Z}}
}

// Scaling returns a non-uniform scale.
func Scaling(s Vec3) Mat3x4 {
	return Mat3x4{{s.X, 0, 0, 0}, {0, s.Y, 0, 0}, {0, 0, s.Z, 0}}
}

// RotateY returns a rotation of angle radians about the y axis.
func RotateY(angle float64) Mat3x4 {
	s, c := math.Sincos(angle)
	return Mat3x4{
		{float32(c), 0, float32(s), 0},
		{0, 1, 0, 0},
		{float32(-s), 0, float32(c), 0},
	}
}

// FromRows builds a transform from 12 row-major values. Shorter input leaves
// the remaining entries at identity.
func FromRows(v []float32) Mat3x4 {
	m := Identity()
	for i := 0; i < 12 && i < len(v); i++ {
		m[i/4][i%4] = v[i]
	}
	return m
}

// Rows flattens the transform into 12 row-major values.
func (m Mat3x4) Rows() []float32 {
	out := make([]float32, 0, 12)
	for r := 0; r < 3; r++ {
		out = append(out, m[r][:]...)
	}
	return out
}

// Point transforms a position.
func (m Mat3x4) Point(p Vec3) Vec3 {
	return Vec3{
		m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// Vector transforms a direction, ignoring translation.
func (m Mat3x4) Vector(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Normal transforms an object-space normal given the world-to-object
// transform m, i.e. by the transpose of its linear part.
func (m Mat3x4) Normal(n Vec3) Vec3 {
	return Vec3{
		m[0][0]*n.X + m[1][0]*n.Y + m[2][0]*n.Z,
		m[0][1]*n.X + m[1][1]*n.Y + m[2][1]*n.Z,
		m[0][2]*n.X + m[1][2]*n.Y + m[2][2]*n.Z,
	}
}

// Mul composes transforms: (m.Mul(o)).Point(p) == m.Point(o.Point(p)).
func (m Mat3x4) Mul(o Mat3x4) Mat3x4 {
	var r Mat3x4
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += m[i][k] * o[k][j]
			}
			if j == 3 {
				s += m[i][3]
			}
			r[i][j] = s
		}
	}
	return r
}

// Inverse returns the inverse transform. A singular transform yields false.
func (m Mat3x4) Inverse() (Mat3x4, bool) {
	a, b, c := m[0][0], m[0][1], m[0][2]
	d, e, f := m[1][0], m[1][1], m[1][2]
	g, h, i := m[2][0], m[2][1], m[2][2]

	A := e*i - f*h
	B := -(d*i - f*g)
	C := d*h - e*g
	det := a*A + b*B + c*C
	if det == 0 {
		return Mat3x4{}, false
	}
	inv := 1 / det

	var r Mat3x4
	r[0][0] = A * inv
	r[0][1] = -(b*i - c*h) * inv
	r[0][2] = (b*f - c*e) * inv
	r[1][0] = B * inv
	r[1][1] = (a*i - c*g) * inv
	r[1][2] = -(a*f - c*d) * inv
	r[2][0] = C * inv
	r[2][1] = -(a*h - b*g) * inv
	r[2][2] = (a*e - b*d) * inv

	t := Vec3{m[0][3], m[1][3], m[2][3]}
	for row := 0; row < 3; row++ {
		r[row][3] = -(r[row][0]*t.X + r[row][1]*t.Y + r[row][2]*t.Z)
	}
	return r, true
}

// TransformAABB returns the world box enclosing the eight transformed corners of b.
func (m Mat3x4) TransformAABB(b AABB) AABB {
	if b.Empty() {
		return b
	}
	out := EmptyAABB()
	for k := 0; k < 8; k++ {
		p := Vec3{b.Min.X, b.Min.Y, b.Min.Z}
		if k&1 != 0 {
			p.X = b.Max.X
		}
		if k&2 != 0 {
			p.Y = b.Max.Y
		}
		if k&4 != 0 {
			p.Z = b.Max.Z
		}
		out = out.Grow(m.Point(p))
	}
	return out
}
