package jpegconv

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OriginalWidth is the literal that keeps the source width.
const OriginalWidth = "original"

// Width is either "keep original" (the zero value) or a positive pixel count.
type Width struct {
	pixels int
}

// Original returns the width that keeps the source extent.
func Original() Width {
	return Width{}
}

// Pixels returns an absolute target width, n must be positive.
func Pixels(n int) (Width, error) {
	if n <= 0 {
		return Width{}, fmt.Errorf("%w: width must be positive, got %d", ErrInvalidParameter, n)
	}
	return Width{pixels: n}, nil
}

// ParseWidth parses "original" (any case), an empty string or a positive integer.
func ParseWidth(s string) (Width, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, OriginalWidth) {
		return Original(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Width{}, fmt.Errorf("%w: width %q is neither a number nor %q", ErrInvalidParameter, s, OriginalWidth)
	}
	return Pixels(n)
}

// IsOriginal reports whether the width keeps the source extent.
func (w Width) IsOriginal() bool {
	return w.pixels == 0
}

// Value returns the target width in pixels, or 0 for Original.
func (w Width) Value() int {
	return w.pixels
}

func (w Width) String() string {
	if w.IsOriginal() {
		return OriginalWidth
	}
	return strconv.Itoa(w.pixels)
}

// DefaultQuality is the compression quality used when none is given.
const DefaultQuality = 0.7

// ParseQuality parses a compression quality in (0, 1].
func ParseQuality(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultQuality, nil
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: quality %q is not a number", ErrInvalidParameter, s)
	}
	return q, ValidateQuality(q)
}

// ValidateQuality checks that q is in (0, 1].
func ValidateQuality(q float64) error {
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return fmt.Errorf("%w: quality %v is out of (0, 1]", ErrInvalidParameter, q)
	}
	return nil
}

// jpegQuality maps q in (0, 1] to the 1..100 JPEG quality scale.
func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
