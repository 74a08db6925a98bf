package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"45.5", 45500 * time.Millisecond},
		{"01:30", 90 * time.Second},
		{"01:00:02.250", time.Hour + 2250*time.Millisecond},
		{" 3 ", 3 * time.Second},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "a:b", "1:2:3:4", "-5", "1.5:30"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error", bad)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(time.Hour + 2*time.Minute + 3500*time.Millisecond); got != "01:02:03.500" {
		t.Errorf("unexpected format: %s", got)
	}
	if got := FormatDuration(-time.Second); got != "00:00:00.000" {
		t.Errorf("negative durations should clamp to zero, got %s", got)
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := ParseFrameRate("30/1"); got != 30 {
		t.Errorf("expected 30, got %f", got)
	}
	if got := ParseFrameRate("30000/1001"); got < 29.97 || got > 29.98 {
		t.Errorf("expected ~29.97, got %f", got)
	}
	if got := ParseFrameRate("25"); got != 25 {
		t.Errorf("expected 25, got %f", got)
	}
	if got := ParseFrameRate("0/0"); got != 0 {
		t.Errorf("expected 0 for 0/0, got %f", got)
	}
}

func TestFrameCount(t *testing.T) {
	if got := FrameCount(3*time.Second, 30); got != 90 {
		t.Errorf("expected 90 frames, got %d", got)
	}
	if got := FrameCount(time.Second, 0); got != 0 {
		t.Errorf("expected 0 frames without fps, got %d", got)
	}
}

func TestPartialPath(t *testing.T) {
	p := PartialPath(filepath.Join("out", "clip_001.mp4"))
	if filepath.Dir(p) != "out" {
		t.Errorf("partial path should be a sibling, got %s", p)
	}
	if filepath.Ext(p) != ".mp4" {
		t.Errorf("partial path must keep the extension, got %s", p)
	}
	if !strings.HasPrefix(filepath.Base(p), ".clip_001.partial-") {
		t.Errorf("unexpected partial name %s", p)
	}
	if p == PartialPath(filepath.Join("out", "clip_001.mp4")) {
		t.Error("partial paths should be unique per call")
	}
}

func TestSamePath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if !SamePath("a.mp4", filepath.Join(wd, "a.mp4")) {
		t.Error("relative and absolute forms should match")
	}
	if SamePath("a.mp4", "b.mp4") {
		t.Error("different files should not match")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(8)
	tb.Write([]byte("hello "))
	tb.Write([]byte("world"))
	if got := tb.String(); got != "lo world" {
		t.Errorf("expected tail 'lo world', got %q", got)
	}
	if tb.Len() != 8 {
		t.Errorf("expected 8 retained bytes, got %d", tb.Len())
	}
}
