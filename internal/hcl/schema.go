package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes all possible top-level blocks from any file.
type fileRoot struct {
	Variables []*variableBlock `hcl:"variable,block"`
	Batch     *batchBlock      `hcl:"batch,block"`
	Pools     []*poolBlock     `hcl:"pool,block"`
	Camera    *cameraBlock     `hcl:"camera,block"`
	Light     *lightBlock      `hcl:"light,block"`
	HitGroups []*hitGroupBlock `hcl:"hit_group,block"`
	Misses    []*missBlock     `hcl:"miss,block"`
	SBT       *sbtBlock        `hcl:"sbt,block"`
	Meshes    []*meshBlock     `hcl:"mesh,block"`
	Instances []*instanceBlock `hcl:"instance,block"`
}

// variableBlock declares a value usable as var.<name> in other blocks.
type variableBlock struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Description string         `hcl:"description,optional"`
}

type batchBlock struct {
	Width     hcl.Expression `hcl:"width,optional"`
	Height    hcl.Expression `hcl:"height,optional"`
	Lanes     hcl.Expression `hcl:"lanes,optional"`
	MaxDepth  hcl.Expression `hcl:"max_depth,optional"`
	Rounds    hcl.Expression `hcl:"rounds,optional"`
	BatchSize hcl.Expression `hcl:"batch_size,optional"`
	Builder   hcl.Expression `hcl:"builder,optional"`
	Fallback  hcl.Expression `hcl:"fallback_color,optional"`
}

type poolBlock struct {
	Name        string         `hcl:"name,label"`
	Concurrency hcl.Expression `hcl:"concurrency,optional"`
	Recursion   hcl.Expression `hcl:"recursion,optional"`
}

type cameraBlock struct {
	Origin hcl.Expression `hcl:"origin,optional"`
	LookAt hcl.Expression `hcl:"look_at,optional"`
	Up     hcl.Expression `hcl:"up,optional"`
	FOV    hcl.Expression `hcl:"fov,optional"`
}

type lightBlock struct {
	Direction hcl.Expression `hcl:"direction,optional"`
	Color     hcl.Expression `hcl:"color,optional"`
	Ambient   hcl.Expression `hcl:"ambient,optional"`
}

type hitGroupBlock struct {
	Name   string         `hcl:"name,label"`
	Kind   hcl.Expression `hcl:"kind"`
	Color  hcl.Expression `hcl:"color,optional"`
	AnyHit hcl.Expression `hcl:"any_hit,optional"`
}

type missBlock struct {
	Name  string         `hcl:"name,label"`
	Kind  hcl.Expression `hcl:"kind,optional"`
	Color hcl.Expression `hcl:"color,optional"`
}

type sbtBlock struct {
	HitGroups hcl.Expression `hcl:"hit_groups,optional"`
	Miss      hcl.Expression `hcl:"miss,optional"`
	Stride    hcl.Expression `hcl:"stride,optional"`
}

type meshBlock struct {
	Name       string           `hcl:"name,label"`
	Geometries []*geometryBlock `hcl:"geometry,block"`
}

type geometryBlock struct {
	Vertices hcl.Expression `hcl:"vertices"`
	Indices  hcl.Expression `hcl:"indices"`
	Opaque   hcl.Expression `hcl:"opaque,optional"`
}

type instanceBlock struct {
	Name      string         `hcl:"name,label"`
	Mesh      hcl.Expression `hcl:"mesh"`
	Transform hcl.Expression `hcl:"transform,optional"`
	Translate hcl.Expression `hcl:"translate,optional"`
	RotateY   hcl.Expression `hcl:"rotate_y,optional"`
	Scale     hcl.Expression `hcl:"scale,optional"`
	SBTOffset hcl.Expression `hcl:"sbt_offset,optional"`
	Mask      hcl.Expression `hcl:"mask,optional"`
}
