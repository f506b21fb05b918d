package thumbnail

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultSize    = 400
	DefaultQuality = 75

	MinSize    = 16
	MaxSize    = 4096
	MinQuality = 1
	MaxQuality = 100
)

// ErrInvalidParam is returned when size or quality is not an integer.
var ErrInvalidParam = errors.New("invalid thumbnail parameter")

// Params selects one rendition of an image.
type Params struct {
	Size    int
	Quality int
}

// ParseParams reads size and quality from a query string, applying defaults
// and clamping both into their accepted ranges.
func ParseParams(values url.Values) (Params, error) {
	size, err := intParam(values, "size", DefaultSize)
	if err != nil {
		return Params{}, err
	}
	quality, err := intParam(values, "quality", DefaultQuality)
	if err != nil {
		return Params{}, err
	}
	return Params{Size: clamp(size, MinSize, MaxSize), Quality: clamp(quality, MinQuality, MaxQuality)}, nil
}

func intParam(values url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParam, name)
	}
	return value, nil
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
