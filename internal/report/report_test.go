package report

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewCollector("/photos", started)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := StatusConverted
			if i%3 == 0 {
				status = StatusFailed
			}
			c.Add(File{Input: "x", Status: status, Stage: "done"})
		}()
	}
	wg.Wait()

	s := c.Finish("run-1", started.Add(time.Minute))
	assert.Equal(t, 6, s.Converted)
	assert.Equal(t, 4, s.Failed)
	assert.Len(t, s.Files, 10)
	assert.Equal(t, "run-1", s.RunID)
}

func TestWriteRead(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewCollector("/photos/a.dng", started)
	c.Add(File{Input: "/photos/a.dng", Output: "/photos/converted/a.jpg", Status: StatusConverted, Stage: "done", Width: 640, Height: 480, InputBytes: 100, OutputBytes: 50})
	c.Add(File{Input: "/photos/b.heic", Status: StatusFailed, Stage: "decoding", Error: "decode failed"})
	s := c.Finish("abc", started.Add(time.Second))

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, Write(path, s))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	data, err := Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status: failed")
	assert.Contains(t, string(data), "stage: decoding")
}
