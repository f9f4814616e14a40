// Package main is the jpegconv command: it converts HDR, RAW and other
// photographic images in a file or directory to JPEG.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

// errNothingConverted signals exit code 1 after the batch was already reported.
var errNothingConverted = errors.New("no file was converted")

var rootCmd = &cobra.Command{
	Use:   "jpegconv [path] [compressionRatio] [width] [outputDir]",
	Short: "Convert HDR and RAW photos to JPEG",
	Long: `jpegconv converts AVIF, HEIC, DNG, ARW, RAW, TIFF, OpenEXR, UltraHDR and other
images to JPEG, optionally resizing them.

path is a file or a directory. A named file is always converted, a directory
contributes its immediate children with a recognized extension.
compressionRatio is the JPEG quality in (0, 1], default 0.7.
width is a pixel width or "original" (default).
outputDir defaults to a "converted" folder next to a file input or inside a
directory input.`,
	Args:          cobra.MaximumNArgs(4),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConvert,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./jpegconv.yaml or ~/.config/jpegconv/jpegconv.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")

	f := rootCmd.Flags()
	f.String("quality", "", "JPEG quality in (0, 1], default 0.7")
	f.String("width", "", `target width in pixels or "original"`)
	f.StringP("output", "o", "", "output directory")
	f.StringToString("width-for", nil, "per-file width override, e.g. --width-for IMG_0001.dng=1200")
	f.StringSlice("extensions", nil, "directory mode extension allow-list (default: built-in list)")
	f.IntP("workers", "j", 1, "files converted in parallel")
	f.Duration("timeout", 0, "overall deadline for the batch, 0 disables it")
	f.String("working-space", "bt2100", "working color space: bt2100, display-p3, srgb")
	f.Bool("hdr", true, "expand HDR data (gain maps, OpenEXR) when present")
	f.Float32("max-boost", 0, "maximum display boost for gain map expansion, 0 uses the metadata capacity")
	f.String("tonemap", "reinhard", "highlight handling for HDR sources: reinhard or clip")
	f.String("interpolation", "lanczos3", "resampling kernel: nearest, bilinear, bicubic, mitchell, lanczos2, lanczos3")
	f.Bool("progressive", false, "write progressive JPEG")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
	f.String("report", "", "write a YAML report to this file after the run")

	_ = viper.BindPFlags(pf)
	_ = viper.BindPFlags(f)
}

func initConfig() {
	cfgFile := viper.GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("jpegconv")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "jpegconv"))
		}
	}

	viper.SetEnvPrefix("JPEGCONV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	os.Exit(execute())
}

func execute() int {
	start := time.Now()
	err := rootCmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNothingConverted):
		return 1
	default:
		fmt.Fprintf(os.Stderr, "jpegconv: %v (after %s)\n", err, time.Since(start).Round(time.Millisecond))
		return 1
	}
}
