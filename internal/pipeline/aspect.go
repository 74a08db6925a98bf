package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Aspect is a target width:height ratio. The zero ratio means "keep the
// source aspect".
type Aspect struct {
	Name string
	W    int
	H    int
}

// Common presets.
var (
	Portrait  = Aspect{Name: "portrait", W: 9, H: 16}
	Square    = Aspect{Name: "square", W: 1, H: 1}
	Landscape = Aspect{Name: "landscape", W: 16, H: 9}
	Original  = Aspect{Name: "original"}
)

// ParseAspect accepts a preset name or an explicit "W:H" ratio.
func ParseAspect(s string) (Aspect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "portrait", "vertical", "9:16", "":
		return Portrait, nil
	case "square", "1:1":
		return Square, nil
	case "landscape", "horizontal", "16:9":
		return Landscape, nil
	case "original", "source", "none":
		return Original, nil
	}

	ws, hs, ok := strings.Cut(s, ":")
	if !ok {
		return Aspect{}, fmt.Errorf("unknown aspect %q", s)
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(ws))
	h, err2 := strconv.Atoi(strings.TrimSpace(hs))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return Aspect{}, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return Aspect{Name: fmt.Sprintf("%d:%d", w, h), W: w, H: h}, nil
}

func (a Aspect) String() string { return a.Name }

// CropSize returns the largest crop of this aspect that fits the source,
// using the full source height whenever the width allows it.
func (a Aspect) CropSize(srcW, srcH int) (int, int) {
	if a.W <= 0 || a.H <= 0 {
		return srcW, srcH
	}
	w, h := srcH*a.W/a.H, srcH
	if w > srcW {
		w, h = srcW, srcW*a.H/a.W
		if h > srcH {
			h = srcH
		}
	}
	return max(w, 1), max(h, 1)
}

// OutputSize picks the encoded frame size. An explicit size wins; a single
// explicit dimension keeps the crop's proportions. Results are even because
// yuv420p encoders reject odd sizes.
func OutputSize(cropW, cropH, wantW, wantH int) (int, int) {
	switch {
	case wantW > 0 && wantH > 0:
		return even(wantW), even(wantH)
	case wantW > 0:
		return even(wantW), even(wantW * cropH / cropW)
	case wantH > 0:
		return even(wantH * cropW / cropH), even(wantH)
	default:
		return even(cropW), even(cropH)
	}
}

func even(n int) int {
	n &^= 1
	if n < 2 {
		return 2
	}
	return n
}
