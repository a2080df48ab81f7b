// Package timecontrol resolves named time-control presets. Defaults are embedded; an optional YAML
// file may add presets or replace them by name.
package timecontrol

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/cheese-arena/internal/domain"
)

//go:embed presets.yaml
var defaultFiles embed.FS

// ErrUnknownPreset is returned by Resolve for names not in the catalog.
var ErrUnknownPreset = errors.New("timecontrol: unknown preset")

type presetFile struct {
	Presets map[string]presetEntry `yaml:"presets"`
}

type presetEntry struct {
	Category  domain.Category `yaml:"category"`
	Initial   int64           `yaml:"initial"`
	Increment int64           `yaml:"increment"`
	// White/Black override the symmetric values when set.
	White *sideEntry `yaml:"white"`
	Black *sideEntry `yaml:"black"`
}

type sideEntry struct {
	Initial   int64 `yaml:"initial"`
	Increment int64 `yaml:"increment"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]domain.TimeControl
	def     string
}

// New loads the embedded presets, then overridePath if non-empty. defaultName must resolve.
func New(overridePath, defaultName string) (*Catalog, error) {
	c := &Catalog{presets: make(map[string]domain.TimeControl)}
	raw, err := fs.ReadFile(defaultFiles, "presets.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded presets: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("embedded presets: %w", err)
	}
	if p := strings.TrimSpace(overridePath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read presets %s: %w", p, err)
		}
		if err := c.apply(b); err != nil {
			return nil, fmt.Errorf("parse presets %s: %w", p, err)
		}
	}
	c.def = strings.ToLower(strings.TrimSpace(defaultName))
	if c.def == "" {
		c.def = "unlimited"
	}
	if _, ok := c.presets[c.def]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownPreset, defaultName)
	}
	return c, nil
}

func (c *Catalog) apply(b []byte) error {
	var f presetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	parsed := make(map[string]domain.TimeControl, len(f.Presets))
	for name, e := range f.Presets {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return errors.New("empty preset name")
		}
		tc := domain.TimeControl{
			Name:           key,
			Category:       e.Category,
			WhiteInitial:   e.Initial,
			BlackInitial:   e.Initial,
			WhiteIncrement: e.Increment,
			BlackIncrement: e.Increment,
		}
		if e.White != nil {
			tc.WhiteInitial, tc.WhiteIncrement = e.White.Initial, e.White.Increment
		}
		if e.Black != nil {
			tc.BlackInitial, tc.BlackIncrement = e.Black.Initial, e.Black.Increment
		}
		if tc.Category == "" {
			tc.Category = domain.CategoryCustom
		}
		if err := tc.Validate(); err != nil {
			return err
		}
		parsed[key] = tc
	}
	c.mu.Lock()
	for k, v := range parsed {
		c.presets[k] = v
	}
	c.mu.Unlock()
	return nil
}

// Lookup returns the preset called name.
func (c *Catalog) Lookup(name string) (domain.TimeControl, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tc, ok := c.presets[strings.ToLower(strings.TrimSpace(name))]
	return tc, ok
}

// Resolve returns the named preset, or the default preset for an empty name.
func (c *Catalog) Resolve(name string) (domain.TimeControl, error) {
	if strings.TrimSpace(name) == "" {
		name = c.def
	}
	tc, ok := c.Lookup(name)
	if !ok {
		return domain.TimeControl{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return tc, nil
}

// Names lists presets sorted by name.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.presets))
	for k := range c.presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Custom builds a per-side control. Sides may differ.
func Custom(whiteInitial, blackInitial, whiteIncrement, blackIncrement int64) (domain.TimeControl, error) {
	tc := domain.TimeControl{
		Name:           fmt.Sprintf("custom-%d+%d/%d+%d", whiteInitial, whiteIncrement, blackInitial, blackIncrement),
		Category:       domain.CategoryCustom,
		WhiteInitial:   whiteInitial,
		BlackInitial:   blackInitial,
		WhiteIncrement: whiteIncrement,
		BlackIncrement: blackIncrement,
	}
	if err := tc.Validate(); err != nil {
		return domain.TimeControl{}, err
	}
	return tc, nil
}
