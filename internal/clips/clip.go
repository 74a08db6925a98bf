package clips

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kikiluvv/reframer/pkg/util"
	"gopkg.in/yaml.v3"
)

// Clip is one source range to retarget.
type Clip struct {
	ID     string
	Source string
	Start  time.Duration
	End    time.Duration
	Aspect string
	Output string
}

// Duration returns the length of the clip's range.
func (c *Clip) Duration() time.Duration {
	return c.End - c.Start
}

// entry is the on-disk form of a clip. Timestamps accept anything
// util.ParseTimestamp does, including bare seconds.
type entry struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Aspect string `yaml:"aspect"`
	Output string `yaml:"output"`
}

// Manager holds an ordered set of clips with unique IDs and outputs.
type Manager struct {
	clips []*Clip
	byID  map[string]*Clip
}

// NewManager creates an empty clip manager
func NewManager() *Manager {
	return &Manager{
		clips: make([]*Clip, 0),
		byID:  make(map[string]*Clip),
	}
}

// Add validates clip and appends it.
func (m *Manager) Add(clip *Clip) error {
	if err := clip.Validate(); err != nil {
		return err
	}
	if _, dup := m.byID[clip.ID]; dup {
		return fmt.Errorf("duplicate clip id %q", clip.ID)
	}
	for _, other := range m.clips {
		if util.SamePath(other.Output, clip.Output) {
			return fmt.Errorf("clips %q and %q write the same output %s", other.ID, clip.ID, clip.Output)
		}
	}
	m.clips = append(m.clips, clip)
	m.byID[clip.ID] = clip
	return nil
}

// Get retrieves a clip by ID
func (m *Manager) Get(id string) *Clip {
	return m.byID[id]
}

// All returns all clips in manifest order
func (m *Manager) All() []*Clip {
	return m.clips
}

// Len returns the number of clips.
func (m *Manager) Len() int {
	return len(m.clips)
}

// Validate reports a clip that cannot be run.
func (c *Clip) Validate() error {
	var problems []error
	if c.ID == "" {
		problems = append(problems, errors.New("id is required"))
	}
	if c.Source == "" {
		problems = append(problems, errors.New("source is required"))
	}
	if c.Output == "" {
		problems = append(problems, errors.New("output is required"))
	}
	if c.Start < 0 {
		problems = append(problems, fmt.Errorf("start cannot be negative, got %s", c.Start))
	}
	if c.End <= c.Start {
		problems = append(problems, fmt.Errorf("end %s must be after start %s", c.End, c.Start))
	}
	if c.Source != "" && c.Output != "" && util.SamePath(c.Source, c.Output) {
		problems = append(problems, errors.New("output would overwrite the source"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("clip %q: %w", c.ID, errors.Join(problems...))
	}
	return nil
}

// Load reads a YAML manifest. Relative paths inside it are resolved against
// the manifest's directory.
func Load(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes a manifest: a YAML list of clips. Missing ids default to
// clip-NNN and missing outputs to <source>_<id>.mp4 next to the manifest.
func Parse(data []byte, baseDir string) (*Manager, error) {
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("manifest has no clips")
	}

	m := NewManager()
	for i, e := range entries {
		clip, err := e.resolve(i, baseDir)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i+1, err)
		}
		if err := m.Add(clip); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (e entry) resolve(index int, baseDir string) (*Clip, error) {
	clip := &Clip{
		ID:     strings.TrimSpace(e.ID),
		Source: resolvePath(baseDir, e.Source),
		Aspect: e.Aspect,
		Output: resolvePath(baseDir, e.Output),
	}
	if clip.ID == "" {
		clip.ID = fmt.Sprintf("clip-%03d", index+1)
	}

	var err error
	if e.Start != "" {
		if clip.Start, err = util.ParseTimestamp(e.Start); err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
	}
	if clip.End, err = util.ParseTimestamp(e.End); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	if clip.Output == "" && clip.Source != "" {
		stem := strings.TrimSuffix(filepath.Base(clip.Source), filepath.Ext(clip.Source))
		clip.Output = filepath.Join(baseDir, fmt.Sprintf("%s_%s.mp4", stem, clip.ID))
	}
	return clip, nil
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
