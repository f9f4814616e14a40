package jpegconv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConverter(t *testing.T, opts ...func(o *Options)) *Converter {
	t.Helper()

	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

func resultsByName(rep *Report) map[string]Result {
	out := make(map[string]Result, len(rep.Results))
	for _, r := range rep.Results {
		out[filepath.Base(r.Input)] = r
	}
	return out
}

func TestConverter_Run_directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", pngBytes(t, texture(40, 30)))
	writeFile(t, dir, "b.jpg", jpegBytes(t, texture(64, 32)))
	writeFile(t, dir, "c.dng", []byte("corrupt"))
	writeFile(t, dir, "readme.txt", []byte("skipped"))

	var logs bytes.Buffer
	c := newTestConverter(t, func(o *Options) {
		o.Logger = zerolog.New(&logs)
	})

	rep, err := c.Run(context.Background(), Request{InputPath: dir, Width: "20"})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.ExitCode())
	assert.NotEmpty(t, rep.RunID)
	assert.Positive(t, rep.OutputBytes)

	res := resultsByName(rep)
	require.Len(t, res, 3)

	a := res["a.png"]
	require.True(t, a.OK(), a.Err)
	assert.Equal(t, filepath.Join(dir, "converted", "a.jpg"), a.Output)
	assert.Equal(t, [2]int{20, 15}, [2]int{a.Width, a.Height})
	cfg := decodeConfig(t, a.Output)
	assert.Equal(t, [2]int{20, 15}, [2]int{cfg.Width, cfg.Height})

	b := res["b.jpg"]
	require.True(t, b.OK(), b.Err)
	assert.Equal(t, [2]int{20, 10}, [2]int{b.Width, b.Height})

	bad := res["c.dng"]
	assert.False(t, bad.OK())
	assert.Equal(t, StageDecoding, bad.Stage)
	assert.ErrorIs(t, bad.Err, ErrDecode)
	var se *StageError
	require.ErrorAs(t, bad.Err, &se)
	assert.Equal(t, bad.Input, se.Path)
	assert.NoFileExists(t, bad.Output)

	assert.Contains(t, logs.String(), rep.RunID)
	assert.Contains(t, logs.String(), "[")
}

func TestConverter_Run_oversizedEXR(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.png", pngBytes(t, texture(8, 8)))
	writeFile(t, dir, "huge.exr", withEXRWindow(openEXR(1, 1, exrGradient, false), [4]int32{0, 0, 0x3FFFFFFF, 0}))

	rep, err := newTestConverter(t).Run(context.Background(), Request{InputPath: dir})
	require.NoError(t, err)

	res := resultsByName(rep)
	require.Len(t, res, 2)
	assert.True(t, res["ok.png"].OK(), res["ok.png"].Err)

	huge := res["huge.exr"]
	assert.False(t, huge.OK())
	assert.Equal(t, StageDecoding, huge.Stage)
	assert.ErrorIs(t, huge.Err, ErrDecode)
}

func TestConverter_Run_originalWidthLogged(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "shot.png", pngBytes(t, texture(8, 8)))

	for _, tc := range []struct {
		width string
		info  bool
	}{
		{width: "original", info: true},
		{width: " Original ", info: true},
		{width: "", info: false},
	} {
		var logs bytes.Buffer
		c := newTestConverter(t, func(o *Options) {
			o.Logger = zerolog.New(&logs).Level(zerolog.InfoLevel)
		})

		rep, err := c.Run(context.Background(), Request{InputPath: p, Width: tc.width})
		require.NoError(t, err)
		require.True(t, rep.Results[0].OK(), rep.Results[0].Err)
		assert.Equal(t, tc.info, strings.Contains(logs.String(), "keeping original width"), "width %q", tc.width)
	}
}

func TestConverter_Run_singleFileOriginalWidth(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "shot.png", pngBytes(t, texture(37, 23)))
	out := filepath.Join(dir, "custom", "nested")

	rep, err := newTestConverter(t).Run(context.Background(), Request{InputPath: p, Quality: "1.0", OutputDir: out})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	require.True(t, rep.Results[0].OK(), rep.Results[0].Err)

	cfg := decodeConfig(t, filepath.Join(out, "shot.jpg"))
	assert.Equal(t, 37, cfg.Width)
	assert.Equal(t, 23, cfg.Height)
}

func TestConverter_Run_defaultOutputNextToFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hdr.jpg", ultraHDR(t, 16, 8))

	rep, err := newTestConverter(t).Run(context.Background(), Request{InputPath: p})
	require.NoError(t, err)
	require.True(t, rep.Results[0].OK(), rep.Results[0].Err)
	assert.True(t, rep.Results[0].HDR)
	assert.FileExists(t, filepath.Join(dir, "converted", "hdr.jpg"))
}

func TestConverter_Run_invalidParameters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", pngBytes(t, texture(8, 8)))
	writeFile(t, dir, "b.png", pngBytes(t, texture(8, 8)))
	c := newTestConverter(t)

	rep, err := c.Run(context.Background(), Request{
		InputPath:      dir,
		WidthOverrides: map[string]string{"a.png": "-1", "b.png": "4"},
	})
	require.NoError(t, err)
	res := resultsByName(rep)
	assert.Equal(t, StagePlanning, res["a.png"].Stage)
	assert.ErrorIs(t, res["a.png"].Err, ErrInvalidParameter)
	assert.True(t, res["b.png"].OK())
	assert.Equal(t, 4, res["b.png"].Width)

	for _, req := range []Request{
		{InputPath: dir, Quality: "0"},
		{InputPath: dir, Quality: "1.2"},
		{InputPath: dir, Width: "0"},
		{InputPath: dir, Width: "huge"},
	} {
		rep, err := c.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 2, rep.Failed)
		assert.Equal(t, 1, rep.ExitCode())
		for _, r := range rep.Results {
			assert.ErrorIs(t, r.Err, ErrInvalidParameter)
		}
	}
}

func TestConverter_Run_fatal(t *testing.T) {
	c := newTestConverter(t)

	_, err := c.Run(context.Background(), Request{InputPath: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, ErrPathNotFound)
	assert.True(t, IsFatal(err))

	_, err = New(func(o *Options) { o.WorkingSpace = "xyz" })
	assert.ErrorIs(t, err, ErrColorSpaceSetup)
}

func TestConverter_Run_emptyDirectory(t *testing.T) {
	rep, err := newTestConverter(t).Run(context.Background(), Request{InputPath: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, rep.Results)
	assert.Equal(t, 0, rep.ExitCode())
}

func TestConverter_Run_workers(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 8; i++ {
		writeFile(t, dir, "img"+strconv.Itoa(i)+".png", pngBytes(t, texture(24+i, 16)))
	}

	var calls, inFlight, maxInFlight atomic.Int32
	c := newTestConverter(t, func(o *Options) {
		o.Workers = 4
		o.OnResult = func(res *Result) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			calls.Add(1)
		}
	})

	rep, err := c.Run(context.Background(), Request{InputPath: dir, Width: "12"})
	require.NoError(t, err)
	assert.Equal(t, 8, rep.Succeeded)
	assert.Equal(t, int32(8), calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load(), "OnResult is serialized")

	for i, r := range rep.Results {
		require.True(t, r.OK(), i)
		assert.Equal(t, 12, r.Width)
	}
}

func TestConverter_Run_canceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", pngBytes(t, texture(8, 8)))
	writeFile(t, dir, "b.png", pngBytes(t, texture(8, 8)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newTestConverter(t).Run(ctx, Request{InputPath: dir})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	for _, r := range rep.Results {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Equal(t, StagePending, r.Stage)
	}
	_, err = os.Stat(filepath.Join(dir, "converted"))
	assert.True(t, os.IsNotExist(err))
}

func TestConverter_Plan_collision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.png", pngBytes(t, texture(8, 8)))
	writeFile(t, dir, "x.tif", []byte("x"))

	var logs bytes.Buffer
	plans, err := newTestConverter(t, func(o *Options) { o.Logger = zerolog.New(&logs) }).
		Plan(Request{InputPath: dir})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, plans[0].Output, plans[1].Output)
	assert.Contains(t, logs.String(), "output collision")
	assert.Equal(t, DefaultQuality, plans[0].Quality)
}
