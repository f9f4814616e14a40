package jpegconv

import "strings"

// Strategy selects the decode path for a candidate.
type Strategy int

const (
	// StrategyStandard decodes pre-rendered formats, expanding HDR when present.
	StrategyStandard Strategy = iota
	// StrategyRAW decodes camera sensor containers.
	StrategyRAW
)

var rawExtensions = map[string]bool{
	"raw": true,
	"dng": true,
	"arw": true,
}

// Dispatch maps a file extension (with or without dot, any case) to a decode strategy.
func Dispatch(ext string) Strategy {
	if rawExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))] {
		return StrategyRAW
	}
	return StrategyStandard
}

func (s Strategy) String() string {
	if s == StrategyRAW {
		return "raw"
	}
	return "standard"
}
