package bvh

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/vecmath"
)

func randIn(r *rand.Rand, lo, hi float32) float32 {
	return lo + r.Float32()*(hi-lo)
}

func randVec(r *rand.Rand, lo, hi float32) vecmath.Vec3 {
	return vecmath.V(randIn(r, lo, hi), randIn(r, lo, hi), randIn(r, lo, hi))
}

// randomScene builds three meshes of small random triangles placed by six
// rotated, scaled and translated instances.
func randomScene(r *rand.Rand, opaque bool) *accel.Scene {
	s := &accel.Scene{}
	for m := 0; m < 3; m++ {
		var g accel.Geometry
		g.Opaque = opaque
		for tri := 0; tri < 24; tri++ {
			c := randVec(r, -1, 1)
			for k := 0; k < 3; k++ {
				g.Vertices = append(g.Vertices, c.Add(randVec(r, -0.3, 0.3)))
				g.Indices = append(g.Indices, uint32(len(g.Vertices)-1))
			}
		}
		s.Meshes = append(s.Meshes, accel.Mesh{Name: "mesh", Geometries: []accel.Geometry{g}})
	}
	for i := 0; i < 6; i++ {
		xf := vecmath.Translate(randVec(r, -4, 4)).
			Mul(vecmath.RotateY(float64(randIn(r, 0, 2*math.Pi)))).
			Mul(vecmath.Scaling(randVec(r, 0.5, 1.5)))
		s.Instances = append(s.Instances, accel.Instance{
			Name:      "inst",
			Mesh:      i % 3,
			Transform: xf,
			SBTOffset: uint32(i),
			Mask:      0xFF,
		})
	}
	return s
}

func randomRays(r *rand.Rand, n int) []accel.Ray {
	rays := make([]accel.Ray, n)
	for i := range rays {
		origin := randVec(r, -1, 1).Normalize().Scale(20)
		target := randVec(r, -4, 4)
		rays[i] = accel.Ray{
			Origin:    origin,
			Direction: target.Sub(origin).Normalize(),
			TMin:      0,
			TMax:      1e30,
			CullMask:  0xFF,
		}
	}
	return rays
}

func buildAll(t *testing.T, scene *accel.Scene) map[string]accel.Traverser {
	t.Helper()
	ctx := context.Background()
	sah, err := Build(ctx, scene, SAH, 0)
	require.NoError(t, err)
	lbvh, err := Build(ctx, scene, LBVH, 3)
	require.NoError(t, err)
	return map[string]accel.Traverser{"sah": sah, "lbvh": lbvh}
}

func assertSameHit(t *testing.T, want accel.HitRecord, wantOK bool, got accel.HitRecord, gotOK bool, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, wantOK, gotOK, msgAndArgs...)
	if !wantOK {
		return
	}
	assert.Equal(t, want.InstanceID, got.InstanceID, msgAndArgs...)
	assert.Equal(t, want.GeometryID, got.GeometryID, msgAndArgs...)
	assert.Equal(t, want.PrimitiveID, got.PrimitiveID, msgAndArgs...)
	assert.Equal(t, want.Kind, got.Kind, msgAndArgs...)
	assert.InDelta(t, want.T, got.T, 1e-4, msgAndArgs...)
}

func TestAccel_AgreesWithLinear(t *testing.T) {
	// Arrange
	r := rand.New(rand.NewPCG(7, 11))
	scene := randomScene(r, true)
	lin, err := accel.NewLinear(scene)
	require.NoError(t, err)
	traversers := buildAll(t, scene)
	rays := randomRays(r, 400)

	hits := 0
	for i, ray := range rays {
		want, wantOK := lin.Traverse(ray, nil)
		if wantOK {
			hits++
		}
		for name, tr := range traversers {
			// Act
			got, gotOK := tr.Traverse(ray, nil)

			// Assert
			assertSameHit(t, want, wantOK, got, gotOK, "%s ray %d", name, i)
		}
	}
	assert.Greater(t, hits, 5, "the scene should be hit by some rays")
	assert.Less(t, hits, len(rays), "some rays should miss")
}

func TestAccel_AnyHitCutout(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	scene := randomScene(r, false)
	lin, err := accel.NewLinear(scene)
	require.NoError(t, err)
	traversers := buildAll(t, scene)

	cutout := func(c accel.HitRecord) accel.Decision {
		if c.PrimitiveID%2 == 0 {
			return accel.Reject
		}
		return accel.Accept
	}
	for i, ray := range randomRays(r, 200) {
		want, wantOK := lin.Traverse(ray, cutout)
		if wantOK {
			assert.Equal(t, uint32(1), want.PrimitiveID%2)
		}
		for name, tr := range traversers {
			got, gotOK := tr.Traverse(ray, cutout)
			assertSameHit(t, want, wantOK, got, gotOK, "%s ray %d", name, i)
		}
	}
}

func TestAccel_TerminateOnFirstHit(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	scene := randomScene(r, true)
	lin, err := accel.NewLinear(scene)
	require.NoError(t, err)
	traversers := buildAll(t, scene)

	for _, ray := range randomRays(r, 100) {
		closest, ok := lin.Traverse(ray, nil)
		ray.Flags = accel.FlagTerminateOnFirstHit
		for name, tr := range traversers {
			got, gotOK := tr.Traverse(ray, nil)
			require.Equal(t, ok, gotOK, name)
			if ok {
				assert.GreaterOrEqual(t, got.T, closest.T, name)
			}
		}
	}
}

func TestAccel_CullMask(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 9))
	scene := randomScene(r, true)
	for i := range scene.Instances {
		scene.Instances[i].Mask = 0x01
	}
	traversers := buildAll(t, scene)
	for _, ray := range randomRays(r, 50) {
		ray.CullMask = 0x02
		for name, tr := range traversers {
			_, ok := tr.Traverse(ray, nil)
			assert.False(t, ok, name)
		}
	}
}

func TestBuild_TreesAreWellFormed(t *testing.T) {
	r := rand.New(rand.NewPCG(21, 42))
	testCases := []struct {
		name  string
		items []vecmath.AABB
	}{
		{name: "empty"},
		{name: "single", items: []vecmath.AABB{vecmath.EmptyAABB().Grow(vecmath.V(1, 2, 3))}},
		{name: "random", items: func() []vecmath.AABB {
			items := make([]vecmath.AABB, 500)
			for i := range items {
				c := randVec(r, -10, 10)
				items[i] = vecmath.EmptyAABB().Grow(c).Grow(c.Add(randVec(r, 0, 1)))
			}
			return items
		}()},
		{name: "coincident", items: func() []vecmath.AABB {
			items := make([]vecmath.AABB, 33)
			for i := range items {
				items[i] = vecmath.EmptyAABB().Grow(vecmath.V(0, 0, 0)).Grow(vecmath.V(1, 1, 1))
			}
			return items
		}()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sah := BuildSAH(tc.items)
			require.NoError(t, sah.check(len(tc.items)), "sah")

			lbvh, err := BuildLBVH(context.Background(), tc.items, 4)
			require.NoError(t, err)
			require.NoError(t, lbvh.check(len(tc.items)), "lbvh")

			if len(tc.items) == 0 {
				assert.True(t, sah.Bounds().Empty())
				assert.Zero(t, lbvh.Depth())
				return
			}
			assert.Equal(t, sah.Bounds(), lbvh.Bounds())
			assert.GreaterOrEqual(t, sah.Depth(), 1)
		})
	}
}

func TestBuildLBVH_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items := []vecmath.AABB{
		vecmath.EmptyAABB().Grow(vecmath.V(0, 0, 0)),
		vecmath.EmptyAABB().Grow(vecmath.V(1, 1, 1)),
	}
	_, err := BuildLBVH(ctx, items, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMortonCode(t *testing.T) {
	bounds := vecmath.EmptyAABB().Grow(vecmath.V(0, 0, 0)).Grow(vecmath.V(1, 1, 1))
	assert.Equal(t, uint32(0), mortonCode(vecmath.V(0, 0, 0), bounds))
	assert.Equal(t, uint32(1<<30-1), mortonCode(vecmath.V(1, 1, 1), bounds))
	assert.Equal(t, expandBits(511)<<2, mortonCode(vecmath.V(0.5, 0, 0), bounds))
	assert.Equal(t, uint32(0x09249249), expandBits(0x3FF))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("LBVH")
	require.NoError(t, err)
	assert.Equal(t, LBVH, m)
	m, err = ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, SAH, m)
	_, err = ParseMethod("octree")
	assert.Error(t, err)
	assert.Equal(t, "lbvh", LBVH.String())
}

func TestBuild_RejectsInvalidScene(t *testing.T) {
	scene := &accel.Scene{Instances: []accel.Instance{{Name: "orphan", Mesh: 2, Transform: vecmath.Identity()}}}
	_, err := Build(context.Background(), scene, SAH, 1)
	assert.ErrorContains(t, err, "orphan")
}
