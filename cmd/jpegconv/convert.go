package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vearutop/jpegconv"
	"github.com/vearutop/jpegconv/internal/metrics"
	"github.com/vearutop/jpegconv/internal/report"
)

// request merges positional arguments over flag, env and config values.
func request(args []string) jpegconv.Request {
	req := jpegconv.Request{
		Quality:        viper.GetString("quality"),
		Width:          viper.GetString("width"),
		OutputDir:      viper.GetString("output"),
		WidthOverrides: viper.GetStringMapString("width-for"),
	}

	req.InputPath = args[0]
	if len(args) > 1 {
		req.Quality = args[1]
	}
	if len(args) > 2 {
		req.Width = args[2]
	}
	if len(args) > 3 {
		req.OutputDir = args[3]
	}
	return req
}

func converterOptions(logger zerolog.Logger) (func(o *jpegconv.Options), error) {
	tm, err := jpegconv.ParseToneMap(viper.GetString("tonemap"))
	if err != nil {
		return nil, err
	}
	interp, err := jpegconv.ParseInterpolation(viper.GetString("interpolation"))
	if err != nil {
		return nil, err
	}

	return func(o *jpegconv.Options) {
		o.WorkingSpace = viper.GetString("working-space")
		o.Decode = jpegconv.DecodeOptions{
			ExpandHDR:       viper.GetBool("hdr"),
			MaxDisplayBoost: float32(viper.GetFloat64("max-boost")),
		}
		o.Encode = jpegconv.EncodeOptions{
			ToneMap:     tm,
			Progressive: viper.GetBool("progressive"),
		}
		o.Interpolation = interp
		o.Extensions = viper.GetStringSlice("extensions")
		o.Workers = viper.GetInt("workers")
		o.Logger = logger
	}, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Usage()
	}

	logger, err := newLogger(cmd.ErrOrStderr(), viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		return err
	}

	setOpts, err := converterOptions(logger)
	if err != nil {
		return err
	}

	started := time.Now()
	req := request(args)

	var (
		m         *metrics.Metrics
		collector *report.Collector
	)
	metricsFile := viper.GetString("metrics-file")
	reportFile := viper.GetString("report")
	if metricsFile != "" {
		m = metrics.New()
	}
	if reportFile != "" {
		collector = report.NewCollector(req.InputPath, started)
	}

	conv, err := jpegconv.New(setOpts, func(o *jpegconv.Options) {
		o.OnResult = func(res *jpegconv.Result) {
			if m != nil {
				m.Observe(res.OK(), string(res.Stage), res.HDR, res.Duration, res.InputBytes, res.OutputBytes)
			}
			if collector != nil {
				collector.Add(reportEntry(res))
			}
		}
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if d := viper.GetDuration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rep, err := conv.Run(ctx, req)
	if err != nil {
		return err
	}

	finished := time.Now()
	if m != nil {
		m.Finish(finished)
		if err := m.WriteTextfile(metricsFile); err != nil {
			logger.Error().Err(err).Str("path", metricsFile).Msg("failed to write metrics")
		}
	}
	if collector != nil {
		if err := report.Write(reportFile, collector.Finish(rep.RunID, finished)); err != nil {
			logger.Error().Err(err).Str("path", reportFile).Msg("failed to write report")
		}
	}

	logger.Info().Str("run_id", rep.RunID).Msgf("%d converted, %d failed, %s -> %s in %s",
		rep.Succeeded, rep.Failed,
		humanize.Bytes(uint64(rep.InputBytes)), humanize.Bytes(uint64(rep.OutputBytes)),
		rep.Elapsed.Round(time.Millisecond))

	if rep.ExitCode() != 0 {
		return errNothingConverted
	}
	return nil
}

func reportEntry(res *jpegconv.Result) report.File {
	f := report.File{
		Input:       res.Input,
		Status:      report.StatusConverted,
		Stage:       string(res.Stage),
		Width:       res.Width,
		Height:      res.Height,
		HDR:         res.HDR,
		InputBytes:  res.InputBytes,
		OutputBytes: res.OutputBytes,
		Seconds:     res.Duration.Seconds(),
	}
	if res.OK() {
		f.Output = res.Output
	} else {
		f.Status = report.StatusFailed
		if res.Err != nil {
			f.Error = res.Err.Error()
		}
	}
	return f
}
