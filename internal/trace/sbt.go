// Package trace implements the trace task: the adaptor that turns one
// acceleration-structure query into a spawned closest-hit or miss task and
// hands that task's colour back to whoever asked for the trace.
//
// # Shader Binding Table
//
// The sub-task run after traversal is chosen through a shader binding table.
// A hit selects the record
//
//	instance.SBTOffset + geometryID*Stride + ray.SBTOffset
//
// of the hit-group table; a miss selects ray.MissIndex of the miss table.
// Every record names one Kind out of a closed set and the adaptor maps that
// Kind to a task type. A record index out of range, or a Kind with no task
// type, is a configuration error: the trace resolves with the fallback colour
// instead of reading anything out of range.
package trace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/vecmath"
)

// ErrNoBinding is returned for shader binding table lookups that do not
// resolve to a runnable sub-task.
var ErrNoBinding = errors.New("no shader binding")

// Kind is the closed set of sub-task kinds a record can select.
type Kind uint8

const (
	KindLambert Kind = iota
	KindMirror
	KindNormal
	KindSky
	KindSolid
)

var kindNames = [...]string{
	KindLambert: "lambert",
	KindMirror:  "mirror",
	KindNormal:  "normal",
	KindSky:     "sky",
	KindSolid:   "solid",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindLambert, KindMirror, KindNormal, KindSky, KindSolid}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown shader kind %q", s)
}

// AnyHitPolicy is the any-hit behaviour of a hit group.
type AnyHitPolicy uint8

const (
	// AnyHitNone accepts every candidate.
	AnyHitNone AnyHitPolicy = iota
	// AnyHitCutout rejects candidates on alternate cells of a barycentric
	// checkerboard, punching holes into the surface.
	AnyHitCutout
)

// cutoutCells is the checkerboard resolution along each barycentric axis.
const cutoutCells = 4

// ParseAnyHit parses "none" or "cutout".
func ParseAnyHit(s string) (AnyHitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AnyHitNone, nil
	case "cutout":
		return AnyHitCutout, nil
	default:
		return AnyHitNone, fmt.Errorf("unknown any-hit policy %q", s)
	}
}

func (p AnyHitPolicy) String() string {
	if p == AnyHitCutout {
		return "cutout"
	}
	return "none"
}

// HitGroup is one record of the hit-group table.
type HitGroup struct {
	Name   string
	Kind   Kind
	Color  vecmath.Vec3
	AnyHit AnyHitPolicy
}

// MissRecord is one record of the miss table.
type MissRecord struct {
	Name  string
	Kind  Kind
	Color vecmath.Vec3
}

// SBT is a shader binding table.
type SBT struct {
	HitGroups []HitGroup
	Miss      []MissRecord
	// Stride is the number of records between consecutive geometries of an
	// instance. Zero is treated as one.
	Stride uint32
}

// HitIndex computes the hit-group record for a hit. The sum is taken in 64
// bits so that a malformed offset cannot wrap around into a valid record.
func (s *SBT) HitIndex(instanceOffset, geometryID, rayOffset uint32) uint64 {
	stride := uint64(max(s.Stride, 1))
	return uint64(instanceOffset) + uint64(geometryID)*stride + uint64(rayOffset)
}

// LookupHit returns the hit group for a hit and its record index.
func (s *SBT) LookupHit(instanceOffset, geometryID, rayOffset uint32) (HitGroup, uint64, error) {
	idx := s.HitIndex(instanceOffset, geometryID, rayOffset)
	if idx >= uint64(len(s.HitGroups)) {
		return HitGroup{}, idx, fmt.Errorf("%w: hit group record %d out of %d", ErrNoBinding, idx, len(s.HitGroups))
	}
	return s.HitGroups[idx], idx, nil
}

// LookupMiss returns miss record idx.
func (s *SBT) LookupMiss(idx uint32) (MissRecord, error) {
	if uint64(idx) >= uint64(len(s.Miss)) {
		return MissRecord{}, fmt.Errorf("%w: miss record %d out of %d", ErrNoBinding, idx, len(s.Miss))
	}
	return s.Miss[idx], nil
}

// AnyHit returns the any-hit callback for ray. Candidates whose record is
// out of range are accepted; the closest-hit lookup reports the error.
func (s *SBT) AnyHit(ray accel.Ray) accel.AnyHitFunc {
	return func(c accel.HitRecord) accel.Decision {
		g, _, err := s.LookupHit(c.SBTOffset, c.GeometryID, ray.SBTOffset)
		if err != nil || g.AnyHit != AnyHitCutout {
			return accel.Accept
		}
		cell := int(c.U*cutoutCells) + int(c.V*cutoutCells)
		if cell%2 == 1 {
			return accel.Reject
		}
		return accel.Accept
	}
}
