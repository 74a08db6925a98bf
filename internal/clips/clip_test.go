package clips

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	manifest := `
- id: intro
  source: talk.mp4
  start: "00:00:05"
  end: "00:00:20.5"
  aspect: portrait
  output: out/intro.mp4
- source: /videos/panel.mov
  start: 90
  end: "2:00"
  aspect: square
`
	m, err := Parse([]byte(manifest), "/work")
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	intro := m.Get("intro")
	require.NotNil(t, intro)
	assert.Equal(t, "/work/talk.mp4", intro.Source)
	assert.Equal(t, "/work/out/intro.mp4", intro.Output)
	assert.Equal(t, 5*time.Second, intro.Start)
	assert.Equal(t, 20500*time.Millisecond, intro.End)
	assert.Equal(t, 15500*time.Millisecond, intro.Duration())
	assert.Equal(t, "portrait", intro.Aspect)

	second := m.All()[1]
	assert.Equal(t, "clip-002", second.ID)
	assert.Equal(t, "/videos/panel.mov", second.Source)
	assert.Equal(t, "/work/panel_clip-002.mp4", second.Output)
	assert.Equal(t, 90*time.Second, second.Start)
	assert.Equal(t, 120*time.Second, second.End)
}

func TestParseManifestStartDefaultsToZero(t *testing.T) {
	m, err := Parse([]byte("- source: a.mp4\n  end: 10\n"), "/work")
	require.NoError(t, err)
	assert.Zero(t, m.All()[0].Start)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		contains string
	}{
		{"not a list", "source: a.mp4", "parse manifest"},
		{"empty", "[]", "no clips"},
		{"missing end", "- source: a.mp4\n", "end"},
		{"bad timestamp", "- source: a.mp4\n  end: soon\n", "invalid timestamp"},
		{"missing source", "- end: 10\n  output: out.mp4\n", "source is required"},
		{"end before start", "- source: a.mp4\n  start: 20\n  end: 10\n", "must be after start"},
		{"duplicate id", "- {id: x, source: a.mp4, end: 5}\n- {id: x, source: b.mp4, end: 5}\n", "duplicate clip id"},
		{"same output", "- {source: a.mp4, end: 5, output: o.mp4}\n- {source: b.mp4, end: 5, output: o.mp4}\n", "same output"},
		{"overwrites source", "- {source: a.mp4, end: 5, output: a.mp4}\n", "overwrite the source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.manifest), "/work")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadResolvesAgainstManifestDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clips.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- {id: a, source: in.mp4, start: 1, end: 2}\n"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "in.mp4"), m.Get("a").Source)
	assert.Equal(t, filepath.Join(dir, "in_a.mp4"), m.Get("a").Output)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManagerAdd(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Add(&Clip{ID: "a", Source: "in.mp4", End: time.Second, Output: "a.mp4"}))
	assert.Error(t, m.Add(&Clip{ID: "a", Source: "in.mp4", End: time.Second, Output: "b.mp4"}))
	assert.Error(t, m.Add(&Clip{ID: "b", Source: "in.mp4", End: time.Second}))
	assert.Nil(t, m.Get("b"))
	assert.Equal(t, 1, m.Len())
}
