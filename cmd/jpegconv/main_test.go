package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/jpegconv"
	"github.com/vearutop/jpegconv/internal/report"
)

func TestRequest_positionalOverridesFlags(t *testing.T) {
	viper.Set("quality", "0.5")
	viper.Set("width", "800")
	viper.Set("output", "/tmp/flag-out")
	t.Cleanup(viper.Reset)

	req := request([]string{"in"})
	assert.Equal(t, "in", req.InputPath)
	assert.Equal(t, "0.5", req.Quality)
	assert.Equal(t, "800", req.Width)
	assert.Equal(t, "/tmp/flag-out", req.OutputDir)

	req = request([]string{"in", "0.9", "original", "out"})
	assert.Equal(t, "0.9", req.Quality)
	assert.Equal(t, "original", req.Width)
	assert.Equal(t, "out", req.OutputDir)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	l, err := newLogger(&buf, "info", "json")
	require.NoError(t, err)
	l.Debug().Msg("hidden")
	l.Info().Str("k", "v").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	_, err = newLogger(&buf, "loud", "json")
	assert.Error(t, err)

	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestReportEntry(t *testing.T) {
	ok := reportEntry(&jpegconv.Result{
		Input: "a.png", Output: "converted/a.jpg", Stage: jpegconv.StageDone,
		Width: 10, Height: 5, InputBytes: 100, OutputBytes: 40,
	})
	assert.Equal(t, report.StatusConverted, ok.Status)
	assert.Equal(t, "converted/a.jpg", ok.Output)
	assert.Empty(t, ok.Error)

	failed := reportEntry(&jpegconv.Result{
		Input: "b.dng", Output: "converted/b.jpg", Stage: jpegconv.StageDecoding,
		Err: errors.New("boom"),
	})
	assert.Equal(t, report.StatusFailed, failed.Status)
	assert.Equal(t, "decoding", failed.Stage)
	assert.Empty(t, failed.Output)
	assert.Equal(t, "boom", failed.Error)
}
