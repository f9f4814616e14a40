package jpegconv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Converter.
type Options struct {
	// WorkingSpace names the shared working color space, see NewWorkingSpace.
	WorkingSpace  string
	Decode        DecodeOptions
	Encode        EncodeOptions
	Interpolation Interpolation
	// Extensions overrides DefaultExtensions for directory inputs.
	Extensions []string
	// Workers bounds parallel candidates, 1 processes sequentially.
	Workers int
	Logger  zerolog.Logger
	// OnResult is called once per candidate, never concurrently.
	OnResult func(res *Result)
}

// Request describes one batch. Quality and Width are raw values parsed once
// per batch, empty strings select the defaults (0.7 and original width).
type Request struct {
	InputPath string
	Quality   string
	Width     string
	OutputDir string
	// WidthOverrides maps an input base name to its own width value.
	WidthOverrides map[string]string
}

// Plan is the resolved work for one candidate.
type Plan struct {
	Candidate Candidate
	Output    OutputTarget
	Width     Width
	// WidthValue is the raw width value the plan was resolved from.
	WidthValue string
	Quality    float64
	// Err is a planning failure that fails the candidate before decoding.
	Err error
}

// Result is the terminal state of one candidate.
type Result struct {
	Input  string
	Output string
	// Stage is StageDone on success, otherwise the stage that failed.
	Stage         Stage
	Err           error
	Width, Height int
	HDR           bool
	InputBytes    int64
	OutputBytes   int64
	Duration      time.Duration
}

// OK reports whether the candidate was converted.
func (r Result) OK() bool {
	return r.Stage == StageDone && r.Err == nil
}

// Report summarizes a batch.
type Report struct {
	RunID       string
	Input       string
	Results     []Result
	Succeeded   int
	Failed      int
	InputBytes  int64
	OutputBytes int64
	Elapsed     time.Duration
}

// ExitCode is 0 when nothing was attempted or at least one candidate succeeded, 1 otherwise.
func (r *Report) ExitCode() int {
	if len(r.Results) > 0 && r.Succeeded == 0 {
		return 1
	}
	return 0
}

// Converter runs conversion batches. It holds only read-only state and may
// be reused.
type Converter struct {
	opt Options
	ws  *WorkingSpace
	dec *Decoder
	enc *Encoder
}

// New creates a Converter. It fails with ErrColorSpaceSetup when the working
// space cannot be built.
func New(opts ...func(o *Options)) (*Converter, error) {
	opt := Options{
		WorkingSpace:  WorkingBT2100,
		Decode:        DecodeOptions{ExpandHDR: true},
		Encode:        EncodeOptions{ToneMap: ToneMapReinhard},
		Interpolation: InterpolationLanczos3,
		Workers:       1,
		Logger:        zerolog.Nop(),
	}
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}
	if opt.Workers < 1 {
		opt.Workers = 1
	}

	ws, err := NewWorkingSpace(opt.WorkingSpace)
	if err != nil {
		return nil, err
	}

	return &Converter{
		opt: opt,
		ws:  ws,
		dec: NewDecoder(ws, opt.Decode, opt.Logger),
		enc: NewEncoder(ws, opt.Encode),
	}, nil
}

// WorkingSpace returns the shared working color space.
func (c *Converter) WorkingSpace() *WorkingSpace {
	return c.ws
}

type parsedWidth struct {
	raw string
	w   Width
	err error
}

// Plan classifies the input and resolves output, width and quality of every
// candidate. Only a missing input path is an error, parameter problems are
// recorded per candidate.
func (c *Converter) Plan(req Request) ([]Plan, error) {
	candidates, kind, err := Classify(req.InputPath, c.opt.Extensions)
	if err != nil {
		return nil, err
	}

	quality, qErr := ParseQuality(req.Quality)
	def := parsedWidth{raw: req.Width}
	def.w, def.err = ParseWidth(req.Width)
	overrides := make(map[string]parsedWidth, len(req.WidthOverrides))
	for name, v := range req.WidthOverrides {
		p := parsedWidth{raw: v}
		p.w, p.err = ParseWidth(v)
		overrides[name] = p
	}

	seen := make(map[string]string, len(candidates))
	plans := make([]Plan, 0, len(candidates))
	for _, cand := range candidates {
		p := Plan{
			Candidate: cand,
			Output:    ResolveOutput(cand.Path, req.InputPath, kind, req.OutputDir),
			Quality:   quality,
		}

		w := def
		if o, ok := overrides[filepath.Base(cand.Path)]; ok {
			w = o
		}
		p.Width = w.w
		p.WidthValue = w.raw

		switch {
		case qErr != nil:
			p.Err = qErr
		case w.err != nil:
			p.Err = w.err
		}

		out := p.Output.Path()
		if prev, ok := seen[out]; ok {
			c.opt.Logger.Warn().Str("input", cand.Path).Str("other", prev).Str("output", out).
				Msg("output collision, later file overwrites earlier one")
		} else {
			seen[out] = cand.Path
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Run converts every candidate of the request. Per-candidate failures are
// reported in the Report, only fatal setup errors are returned.
func (c *Converter) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	plans, err := c.Plan(req)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:   uuid.NewString(),
		Input:   req.InputPath,
		Results: make([]Result, len(plans)),
	}
	logger := c.opt.Logger.With().Str("run_id", rep.RunID).Logger()
	logger.Info().Str("input", req.InputPath).Int("candidates", len(plans)).
		Str("working_space", c.ws.Profile.Name).Int("workers", c.opt.Workers).Msg("batch started")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.opt.Workers)
	for i := range plans {
		g.Go(func() error {
			res := c.process(ctx, logger, i, len(plans), plans[i])

			mu.Lock()
			defer mu.Unlock()
			rep.Results[i] = res
			if c.opt.OnResult != nil {
				c.opt.OnResult(&rep.Results[i])
			}
			// Failures are reported, never returned, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range rep.Results {
		rep.InputBytes += r.InputBytes
		if r.OK() {
			rep.Succeeded++
			rep.OutputBytes += r.OutputBytes
		} else {
			rep.Failed++
		}
	}
	rep.Elapsed = time.Since(start)
	return rep, nil
}

func (c *Converter) process(ctx context.Context, logger zerolog.Logger, i, n int, p Plan) (res Result) {
	start := time.Now()
	res = Result{Input: p.Candidate.Path, Output: p.Output.Path(), Stage: StagePending}
	log := logger.With().Str("input", res.Input).Logger()

	fail := func(stage Stage, err error) {
		res.Stage = stage
		res.Err = &StageError{Stage: stage, Path: res.Input, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			fail(res.Stage, fmt.Errorf("%w: panic: %v", stageSentinel(res.Stage), r))
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			log.Error().Err(res.Err).Str("stage", string(res.Stage)).Msgf("[%d/%d] failed", i+1, n)
			return
		}
		log.Info().Str("output", res.Output).Int("width", res.Width).Int("height", res.Height).
			Int64("bytes", res.OutputBytes).Bool("hdr", res.HDR).Dur("took", res.Duration).
			Msgf("[%d/%d] converted", i+1, n)
	}()

	if fi, err := os.Stat(p.Candidate.Path); err == nil {
		res.InputBytes = fi.Size()
	}

	if p.Err != nil {
		fail(StagePlanning, p.Err)
		return res
	}
	if err := ctx.Err(); err != nil {
		fail(StagePending, err)
		return res
	}

	res.Stage = StageDecoding
	img, err := c.dec.Decode(p.Candidate)
	if err != nil {
		fail(StageDecoding, err)
		return res
	}
	res.HDR = img.HDR

	res.Stage = StageResampling
	if err := ctx.Err(); err != nil {
		fail(StageResampling, err)
		return res
	}
	if p.Width.IsOriginal() {
		ev := log.Debug()
		if strings.EqualFold(strings.TrimSpace(p.WidthValue), OriginalWidth) {
			ev = log.Info()
		}
		ev.Msg("keeping original width")
	}
	img, err = Resample(img, p.Width, c.opt.Interpolation)
	if err != nil {
		fail(StageResampling, err)
		return res
	}
	res.Width, res.Height = img.Width(), img.Height()

	res.Stage = StageEncoding
	if err := ctx.Err(); err != nil {
		fail(StageEncoding, err)
		return res
	}
	data, err := c.enc.Encode(img, p.Quality)
	if err != nil {
		fail(StageEncoding, err)
		return res
	}

	log.Info().Str("output", res.Output).Msgf("[%d/%d] %s -> %s", i+1, n, res.Input, res.Output)
	if err := WriteFile(res.Output, data); err != nil {
		fail(StageEncoding, err)
		return res
	}

	res.OutputBytes = int64(len(data))
	res.Stage = StageDone
	return res
}

func stageSentinel(s Stage) error {
	switch s {
	case StageDecoding:
		return ErrDecode
	case StageEncoding:
		return ErrEncode
	default:
		return ErrInvalidParameter
	}
}
