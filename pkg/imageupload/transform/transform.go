// Package transform parses eager transformation specs such as
// "w_400,h_300,c_pad|w_260,h_200,c_crop" and renders the variants they
// describe.
package transform

import (
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"
)

// CropMode selects how an image is fitted into the requested dimensions.
type CropMode string

const (
	// CropScale resizes to exactly the requested size, ignoring aspect ratio
	// when both dimensions are given.
	CropScale CropMode = "scale"
	// CropFit resizes so the whole image fits inside the box.
	CropFit CropMode = "fit"
	// CropLimit behaves like CropFit but never enlarges.
	CropLimit CropMode = "limit"
	// CropFill resizes to cover the box, then trims the overflow from the center.
	CropFill CropMode = "fill"
	// CropPad resizes to fit inside the box and pads the rest with the background.
	CropPad CropMode = "pad"
	// CropCrop extracts the requested region from the center without resizing.
	CropCrop CropMode = "crop"
)

// MaxDimension is the largest width or height a transformation may produce.
const MaxDimension = 4096

var (
	// ErrEmptySpec is returned for a blank spec or component.
	ErrEmptySpec = errors.New("empty transformation")
	// ErrInvalidComponent is returned for an unknown or malformed component.
	ErrInvalidComponent = errors.New("invalid transformation component")
)

// Transformation is one derived variant.
type Transformation struct {
	Width      int
	Height     int
	Crop       CropMode
	Background color.Color
	background string
}

// Parse splits spec on "|" and parses each transformation.
func Parse(spec string) ([]Transformation, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, "|")
	out := make([]Transformation, 0, len(parts))
	for _, p := range parts {
		t, err := ParseOne(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseOne parses a single comma separated transformation, e.g. "w_400,h_300,c_pad".
func ParseOne(s string) (Transformation, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Transformation{}, ErrEmptySpec
	}
	t := Transformation{Crop: CropScale}
	for _, comp := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(comp), "_")
		if !ok || value == "" {
			return Transformation{}, fmt.Errorf("%w: %q", ErrInvalidComponent, comp)
		}
		switch key {
		case "w", "h":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return Transformation{}, fmt.Errorf("%w: %q", ErrInvalidComponent, comp)
			}
			if n > MaxDimension {
				return Transformation{}, fmt.Errorf("%w: %q exceeds %d pixels", ErrInvalidComponent, comp, MaxDimension)
			}
			if key == "w" {
				t.Width = n
			} else {
				t.Height = n
			}
		case "c":
			mode := CropMode(value)
			switch mode {
			case CropScale, CropFit, CropLimit, CropFill, CropPad, CropCrop:
				t.Crop = mode
			default:
				return Transformation{}, fmt.Errorf("%w: unsupported crop mode %q", ErrInvalidComponent, value)
			}
		case "b":
			c, err := parseColor(value)
			if err != nil {
				return Transformation{}, fmt.Errorf("%w: %q: %v", ErrInvalidComponent, comp, err)
			}
			t.Background = c
			t.background = value
		default:
			return Transformation{}, fmt.Errorf("%w: %q", ErrInvalidComponent, comp)
		}
	}
	if t.Width == 0 && t.Height == 0 {
		return Transformation{}, fmt.Errorf("%w: %q needs a width or height", ErrInvalidComponent, s)
	}
	return t, nil
}

// String returns the canonical form with components sorted by key, the way
// the hosting service reports eager transformations: "c_pad,h_300,w_400".
func (t Transformation) String() string {
	var comps []string
	if t.background != "" {
		comps = append(comps, "b_"+t.background)
	}
	if t.Crop != "" && t.Crop != CropScale {
		comps = append(comps, "c_"+string(t.Crop))
	}
	if t.Height > 0 {
		comps = append(comps, "h_"+strconv.Itoa(t.Height))
	}
	if t.Width > 0 {
		comps = append(comps, "w_"+strconv.Itoa(t.Width))
	}
	sort.Strings(comps)
	return strings.Join(comps, ",")
}

var namedColors = map[string]color.Color{
	"white":       color.White,
	"black":       color.Black,
	"transparent": color.Transparent,
}

func parseColor(s string) (color.Color, error) {
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}
	hex, ok := strings.CutPrefix(strings.ToLower(s), "rgb:")
	if !ok || len(hex) != 6 {
		return nil, errors.New("expected a color name or rgb:rrggbb")
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, err
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
