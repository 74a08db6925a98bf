package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAspect(t *testing.T) {
	tests := []struct {
		in   string
		want Aspect
	}{
		{"", Portrait},
		{"portrait", Portrait},
		{"Vertical", Portrait},
		{"9:16", Portrait},
		{"square", Square},
		{"1:1", Square},
		{" landscape ", Landscape},
		{"16:9", Landscape},
		{"original", Original},
		{"none", Original},
		{"4:5", Aspect{Name: "4:5", W: 4, H: 5}},
		{"21 : 9", Aspect{Name: "21:9", W: 21, H: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAspect(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"cinemascope", "4:", "0:1", "1:-2", "a:b"} {
		_, err := ParseAspect(bad)
		assert.Error(t, err, bad)
	}
}

func TestCropSize(t *testing.T) {
	tests := []struct {
		name         string
		aspect       Aspect
		srcW, srcH   int
		wantW, wantH int
	}{
		{"portrait from landscape", Portrait, 1920, 1080, 607, 1080},
		{"portrait from 720p", Portrait, 1280, 720, 405, 720},
		{"square from landscape", Square, 1920, 1080, 1080, 1080},
		{"landscape from landscape", Landscape, 1920, 1080, 1920, 1080},
		{"portrait from portrait", Portrait, 1080, 1920, 1080, 1920},
		{"landscape from portrait", Landscape, 1080, 1920, 1080, 607},
		{"original", Original, 853, 480, 853, 480},
		{"tiny source", Portrait, 1, 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tt.aspect.CropSize(tt.srcW, tt.srcH)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.LessOrEqual(t, w, tt.srcW)
			assert.LessOrEqual(t, h, tt.srcH)
		})
	}
}

func TestOutputSize(t *testing.T) {
	tests := []struct {
		name                     string
		cropW, cropH, wantW, wantH int
		outW, outH               int
	}{
		{"crop size rounded to even", 607, 1080, 0, 0, 606, 1080},
		{"explicit size", 607, 1080, 1080, 1920, 1080, 1920},
		{"explicit odd size", 607, 1080, 721, 1281, 720, 1280},
		{"width only keeps proportions", 405, 720, 1080, 0, 1080, 1920},
		{"height only keeps proportions", 1080, 1080, 0, 500, 500, 500},
		{"never below two", 1, 1, 0, 0, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := OutputSize(tt.cropW, tt.cropH, tt.wantW, tt.wantH)
			assert.Equal(t, tt.outW, w)
			assert.Equal(t, tt.outH, h)
		})
	}
}
