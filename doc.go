// Package jpegconv converts HDR, RAW and other photographic images to JPEG.
//
// A batch classifies an input path into candidates, dispatches every
// candidate to a RAW-class or standard decoder, normalizes pixels into a
// shared working color space (expanding HDR where the source carries it),
// optionally resamples to a target width and re-encodes the result as JPEG
// with the source color profile. Per-file failures are reported and never
// abort the remaining batch.
package jpegconv
