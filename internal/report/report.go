// Package report writes a YAML summary of a conversion batch.
package report

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

// File is the outcome of one input file.
type File struct {
	Input       string  `yaml:"input"`
	Output      string  `yaml:"output,omitempty"`
	Status      string  `yaml:"status"`
	Stage       string  `yaml:"stage"`
	Error       string  `yaml:"error,omitempty"`
	Width       int     `yaml:"width,omitempty"`
	Height      int     `yaml:"height,omitempty"`
	HDR         bool    `yaml:"hdr,omitempty"`
	InputBytes  int64   `yaml:"input_bytes"`
	OutputBytes int64   `yaml:"output_bytes,omitempty"`
	Seconds     float64 `yaml:"seconds"`
}

// Summary is the document written to disk.
type Summary struct {
	RunID     string    `yaml:"run_id"`
	Input     string    `yaml:"input"`
	Started   time.Time `yaml:"started"`
	Finished  time.Time `yaml:"finished"`
	Converted int       `yaml:"converted"`
	Failed    int       `yaml:"failed"`
	Files     []File    `yaml:"files"`
}

// Collector accumulates file outcomes, it is safe for concurrent use.
type Collector struct {
	mu sync.Mutex
	s  Summary
}

// NewCollector starts a summary for input.
func NewCollector(input string, started time.Time) *Collector {
	return &Collector{s: Summary{Input: input, Started: started}}
}

// Add records a file outcome.
func (c *Collector) Add(f File) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Status == StatusConverted {
		c.s.Converted++
	} else {
		c.s.Failed++
	}
	c.s.Files = append(c.s.Files, f)
}

// File statuses.
const (
	StatusConverted = "converted"
	StatusFailed    = "failed"
)

// Finish stamps the run id and end time and returns a copy of the summary.
func (c *Collector) Finish(runID string, at time.Time) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.RunID = runID
	c.s.Finished = at
	s := c.s
	s.Files = append([]File(nil), c.s.Files...)
	return s
}

// Marshal renders the summary as YAML.
func Marshal(s Summary) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores the summary at path.
func Write(path string, s Summary) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Read loads a summary written by Write.
func Read(path string) (Summary, error) {
	var s Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode report: %w", err)
	}
	return s, nil
}
