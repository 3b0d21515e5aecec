package app

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/wavefront/internal/config"
	"github.com/vk/wavefront/internal/hcl"
	"github.com/vk/wavefront/internal/trace"
	"github.com/vk/wavefront/internal/vecmath"
	"golang.org/x/image/bmp"
)

// panelScene is a 2×2 red quad at z=0 in front of the default camera over
// a solid blue background. In the 4×4 image the inner 2×2 pixels hit it.
const panelScene = `
batch {
  width     = 4
  height    = 4
  lanes     = 2
  max_depth = 2
}

hit_group "red" {
  kind  = "solid"
  color = [1, 0, 0]
}

miss "background" {
  kind  = "solid"
  color = [0, 0, 1]
}

mesh "panel" {
  geometry {
    vertices = [-1, -1, 0, 1, -1, 0, 1, 1, 0, -1, 1, 0]
    indices  = [0, 1, 2, 0, 2, 3]
  }
}

instance "panel" {
  mesh = "panel"
}
`

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

func isInner(x, y int) bool { return x >= 1 && x <= 2 && y >= 1 && y <= 2 }

func newTestApp(t *testing.T, cfg Config) (*App, *SafeBuffer) {
	t.Helper()
	if len(cfg.ScenePaths) == 0 {
		cfg.ScenePaths = []string{WriteScene(t, panelScene)}
	}
	c, err := NewConfig(cfg)
	require.NoError(t, err)
	return SetupAppTest(t, c, hcl.NewLoader())
}

func TestApp_RunWritesImage(t *testing.T) {
	// --- Arrange ---
	out := filepath.Join(t.TempDir(), "frame.png")
	a, logs := newTestApp(t, Config{Output: out})

	// --- Act ---
	err := a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	frame := a.Frame()
	require.NotNil(t, frame)
	assert.Equal(t, map[trace.Outcome]int{trace.OutcomeHit: 4, trace.OutcomeMiss: 12}, frame.Outcomes)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := blue
			if isInner(x, y) {
				want = red
			}
			assert.Equal(t, want, color.NRGBAModel.Convert(img.At(x, y)), "pixel %d,%d", x, y)
		}
	}

	assert.Contains(t, logs.String(), "Rendering started.")
	assert.Contains(t, logs.String(), "Frame summary.")
	assert.Contains(t, logs.String(), "Image written.")
}

func TestApp_BuildersAgree(t *testing.T) {
	var frames [][]vecmath.Vec3
	for _, builder := range []string{"sah", "lbvh", "linear"} {
		a, _ := newTestApp(t, Config{Builder: builder})
		require.NoError(t, a.Run(context.Background()), builder)
		frames = append(frames, a.Frame().Pixels)
	}
	for i := 1; i < len(frames); i++ {
		if diff := cmp.Diff(frames[0], frames[i]); diff != "" {
			t.Errorf("builder %d disagrees with sah (-sah +other):\n%s", i, diff)
		}
	}
}

func TestApp_OutputFormats(t *testing.T) {
	dir := t.TempDir()

	bmpPath := filepath.Join(dir, "frame.bmp")
	a, _ := newTestApp(t, Config{Output: bmpPath})
	require.NoError(t, a.Run(context.Background()))
	f, err := os.Open(bmpPath)
	require.NoError(t, err)
	img, err := bmp.Decode(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, red, color.NRGBAModel.Convert(img.At(1, 1)))

	jpgPath := filepath.Join(dir, "frame.jpg")
	a, _ = newTestApp(t, Config{Output: jpgPath})
	require.NoError(t, a.Run(context.Background()))
	f, err = os.Open(jpgPath)
	require.NoError(t, err)
	img, err = jpeg.Decode(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
}

func TestApp_StatusEndpoint(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	mux := a.healthMux()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	var before status
	require.NoError(t, json.Unmarshal(get("/status").Body.Bytes(), &before))
	assert.Equal(t, stateIdle, before.State)
	assert.Nil(t, before.LastRound)

	require.NoError(t, a.Run(context.Background()))

	rec = get("/status")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var after status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, stateDone, after.State)
	require.NotNil(t, after.LastRound)
	assert.NotEmpty(t, after.LastRound.Groups)
	assert.Zero(t, after.LastRound.Active())
}

func TestNewApp_PanicsOnBadScene(t *testing.T) {
	testCases := []struct {
		name  string
		scene string
	}{
		{name: "syntax error", scene: `batch {`},
		{name: "unknown kind", scene: `hit_group "x" { kind = "glass" }`},
		{name: "unknown builder", scene: `batch { builder = "kd" }`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{ScenePaths: []string{WriteScene(t, tc.scene)}}
			assert.Panics(t, func() { NewApp(&SafeBuffer{}, cfg, hcl.NewLoader()) })
		})
	}
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{ScenePaths: []string{"a.hcl"}, Output: "out.PNG", Builder: "lbvh"}},
		{name: "no scene", cfg: Config{}, wantErr: "scene path"},
		{name: "negative rounds", cfg: Config{ScenePaths: []string{"a"}, Rounds: -1}, wantErr: "negative"},
		{name: "bad builder", cfg: Config{ScenePaths: []string{"a"}, Builder: "kd"}, wantErr: `unknown builder "kd"`},
		{name: "bad output", cfg: Config{ScenePaths: []string{"a"}, Output: "frame.gif"}, wantErr: `".gif"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestInstanceTransform(t *testing.T) {
	in := &config.Instance{
		Translate: []float64{0, 1, 0},
		RotateY:   90,
		Scale:     []float64{2, 2, 2},
	}
	p := instanceTransform(in).Point(vecmath.V(1, 0, 0))
	assert.InDelta(t, 0, p.X, 1e-5)
	assert.InDelta(t, 1, p.Y, 1e-5)
	assert.InDelta(t, -2, p.Z, 1e-5)

	in.Transform = []float64{1, 0, 0, 5, 0, 1, 0, 6, 0, 0, 1, 7}
	assert.Equal(t, vecmath.V(6, 6, 7), instanceTransform(in).Point(vecmath.V(1, 0, 0)))
}

func TestBuildSBT(t *testing.T) {
	m := config.NewModel()
	m.HitGroups["a"] = &config.HitGroup{Name: "a", Kind: "mirror", Color: []float64{1, 1, 1}, AnyHit: "cutout"}
	m.Misses["m"] = &config.Miss{Name: "m", Kind: "sky", Color: []float64{0, 0, 1}}
	m.SBT = config.SBT{HitGroups: []string{"a", "a"}, Miss: []string{"m"}, Stride: 2}

	sbt, err := buildSBT(m)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), sbt.Stride)
	require.Len(t, sbt.HitGroups, 2)
	assert.Equal(t, trace.HitGroup{Name: "a", Kind: trace.KindMirror, Color: vecmath.V(1, 1, 1), AnyHit: trace.AnyHitCutout}, sbt.HitGroups[1])
	assert.Equal(t, trace.MissRecord{Name: "m", Kind: trace.KindSky, Color: vecmath.V(0, 0, 1)}, sbt.Miss[0])

	m.Misses["m"].Kind = "plasma"
	_, err = buildSBT(m)
	assert.ErrorContains(t, err, `miss "m"`)

	m.Misses["m"].Kind = "sky"
	m.SBT.Stride = -2
	_, err = buildSBT(m)
	assert.ErrorContains(t, err, "sbt: stride: -2 is outside")
}

func TestBuildScene_RejectsOffsetPast32Bits(t *testing.T) {
	m := config.NewModel()
	m.Meshes["tri"] = &config.Mesh{Name: "tri", Geometries: []*config.Geometry{{
		Vertices: []float64{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []int{0, 1, 2},
	}}}
	big := int64(math.MaxUint32) + 1
	m.Instances = []*config.Instance{{
		Name: "a", Mesh: "tri", Translate: []float64{0, 0, 0}, Scale: []float64{1, 1, 1}, SBTOffset: int(big),
	}}

	_, err := buildScene(m)

	assert.ErrorContains(t, err, `instance "a": sbt_offset: 4294967296 is outside`)
}

func TestNewLogger(t *testing.T) {
	buf := &SafeBuffer{}
	logger := newLogger("warn", "json", buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	assert.True(t, newLogger("nonsense", "text", buf).Enabled(context.Background(), 0))
}
